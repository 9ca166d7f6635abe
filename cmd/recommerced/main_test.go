package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"recommerce/internal/auth"
)

func TestTokenCommand(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, ".env.txt")
	if err := os.WriteFile(secrets, []byte("reserved\nweb\ndev\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "recommerce.yaml")
	if err := os.WriteFile(cfgPath, []byte("secrets_file: "+secrets+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", cfgPath, "--role", "webserver"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := strings.TrimSpace(out.String())
	if pair := auth.Pair("web", time.Now()); got != pair[1] && got != pair[0] {
		t.Fatalf("token: got %q, want %q", got, pair[1])
	}
}

func TestTokenCommandUnknownRole(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--role", "admin"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
