package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creditline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: text
store:
  driver: postgres
  url: postgres://localhost/creditline
ledger:
  initial_credits: 50
  sweep_interval: 30s
auth:
  jwt_secret: from-file
`)
	t.Setenv("CREDITLINE_AUTH_JWT_SECRET", "from-env")
	t.Setenv("CREDITLINE_HTTP_ADDR", ":9090")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "postgres", cfg.Store.Driver)
	require.Equal(t, int64(50), cfg.Ledger.InitialCredits)
	require.Equal(t, 30*time.Second, cfg.Ledger.SweepInterval)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Equal(t, ":9090", cfg.HTTP.Addr)

	// Untouched keys keep their defaults.
	require.Equal(t, 60*time.Second, cfg.Ledger.GenerationTimeout)
	require.Equal(t, "creditline", cfg.Ledger.AppID)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: sqlite\n"},
		{"postgres without url", "store:\n  driver: postgres\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad imagekit endpoint", "gateway:\n  imagekit_endpoint: not a url\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			require.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestPlansCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"plans"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[1], "basic")
	require.Contains(t, lines[1], "$10.00")
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: s3cret\n")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--name", "ada"})
	require.NoError(t, cmd.Execute())
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "."), 3)
}
