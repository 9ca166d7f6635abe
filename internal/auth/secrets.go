package auth

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment fallbacks used when the secrets file is absent.
const (
	EnvWebserverSecret = "AUTHORIZATION_TOKEN_WEB"
	EnvDeveloperSecret = "AUTHORIZATION_TOKEN"
)

// LoadSecrets reads the secrets file at path: line 1 is reserved, line 2 holds
// the webserver secret and line 3 the developer secret. When the file does not
// exist the secrets come from the environment.
func LoadSecrets(path string) (Secrets, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Secrets{
				Webserver: strings.TrimSpace(os.Getenv(EnvWebserverSecret)),
				Developer: strings.TrimSpace(os.Getenv(EnvDeveloperSecret)),
			}, nil
		}
		return Secrets{}, fmt.Errorf("open secrets: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(lines) < 3 {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return Secrets{}, fmt.Errorf("read secrets: %w", err)
	}

	var s Secrets
	if len(lines) > 1 {
		s.Webserver = lines[1]
	}
	if len(lines) > 2 {
		s.Developer = lines[2]
	}
	return s, nil
}
