package daemon

import (
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"recommerce/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database = filepath.Join(dir, "sqlite.db")
	cfg.SecretsFile = filepath.Join(dir, "missing.txt")
	cfg.NTP.Server = ""
	cfg.Sampler.ProcPath = filepath.Join(dir, "no-proc")
	return cfg
}

func TestNewWiresCollaborators(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(t.Context(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.close()

	if d.orch == nil || d.api == nil || d.reaper == nil || d.hub == nil {
		t.Fatal("collaborator missing")
	}
	if d.sampler != nil {
		t.Fatal("sampler enabled without a proc filesystem")
	}
	if d.clock != nil {
		t.Fatal("clock check enabled without an NTP server")
	}
}

func TestServeMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig(t)
	d, err := New(t.Context(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.close()

	done := make(chan error, 1)
	go func() { done <- serveMetrics(t.Context(), addr, d.metrics) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics endpoint never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type: got %q", ct)
	}
}
