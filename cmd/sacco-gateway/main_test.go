// ABOUTME: Tests for the sacco-gateway CLI: log handler output, prompts, init and token
// ABOUTME: Commands run against temp directories and never touch the real config

package main

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsacco/sacco-gateway/internal/auth"
	"github.com/bitsacco/sacco-gateway/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := slog.New(&colorHandler{out: &buf, mu: &sync.Mutex{}, level: slog.LevelInfo})

	logger.Debug("hidden")
	logger.With("component", "engine").WithGroup("turn").Info("handled", "user_id", "u1")

	line := buf.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "INF handled")
	assert.Contains(t, line, " component=engine")
	assert.Contains(t, line, " turn.user_id=u1")
	assert.Equal(t, 1, strings.Count(line, "\n"))
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	reader := bufio.NewReader(strings.NewReader("custom\n\n"))

	assert.Equal(t, "custom", prompt(reader, &out, "HTTP address", "localhost:8080"))
	assert.Equal(t, "localhost:8080", prompt(reader, &out, "HTTP address", "localhost:8080"))
	// EOF falls back to the default.
	assert.Equal(t, "x", prompt(reader, &out, "Again", "x"))
	assert.Contains(t, out.String(), "HTTP address [localhost:8080]: ")
}

func withConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	old := configPath
	configPath = filepath.Join(dir, "sacco", "gateway.yaml")
	t.Cleanup(func() { configPath = old })
	return configPath
}

func TestInitAndToken(t *testing.T) {
	path := withConfigPath(t)
	initYes = true
	t.Cleanup(func() { initYes = false })

	var out bytes.Buffer
	initCmd.SetOut(&out)
	initCmd.SetIn(strings.NewReader(""))
	require.NoError(t, runInit(initCmd, nil))
	assert.Contains(t, out.String(), "Config written to "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.True(t, strings.HasPrefix(cfg.Database.Path, os.Getenv("XDG_DATA_HOME")))

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)

	saved, err := os.ReadFile(filepath.Join(filepath.Dir(path), "token"))
	require.NoError(t, err)
	claims, err := verifier.Verify(strings.TrimSpace(string(saved)))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	tokenSubject, tokenRole, tokenTTL = "alice", "viewer", time.Hour
	out.Reset()
	tokenCmd.SetOut(&out)
	require.NoError(t, runToken(tokenCmd, nil))

	claims, err = verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, auth.RoleViewer, claims.Role)

	tokenRole = "root"
	assert.Error(t, runToken(tokenCmd, nil))
}

func TestInit_KeepsExistingConfig(t *testing.T) {
	path := withConfigPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0600))

	var out bytes.Buffer
	initCmd.SetOut(&out)
	initCmd.SetIn(strings.NewReader("\n\n"))
	require.NoError(t, runInit(initCmd, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
	assert.Contains(t, out.String(), "Aborted.")
}

func TestResolveToken(t *testing.T) {
	path := withConfigPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))

	t.Setenv("SACCO_TOKEN", "")
	apiToken = ""
	_, err := resolveToken()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "token"), []byte("from-file\n"), 0600))
	tok, err := resolveToken()
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok)

	t.Setenv("SACCO_TOKEN", "from-env")
	tok, _ = resolveToken()
	assert.Equal(t, "from-env", tok)

	apiToken = "from-flag"
	t.Cleanup(func() { apiToken = "" })
	tok, _ = resolveToken()
	assert.Equal(t, "from-flag", tok)
}

func TestCall_Unreachable(t *testing.T) {
	_, err := call(context.Background(), "GET", "http://127.0.0.1:1/health", "", nil)
	assert.Error(t, err)
}
