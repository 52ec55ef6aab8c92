package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyuha/vyuha-explorer/internal/layout"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vyuha.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	sc, err := cfg.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, layout.KindHierarchical, sc.Layout)
	assert.False(t, sc.RelayoutOnExpand)
	assert.Equal(t, 50, sc.Expand.Limit)
	assert.Equal(t, 30*time.Minute, sc.IdleTTL)
}

func TestLoad_YAMLOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
log_level: debug
server:
  addr: ":9090"
  expand_rate: 5
storage:
  db_path: /tmp/fleet.db
expansion:
  default_limit: 25
  semantic: true
  min_score: 0.6
layout:
  mode: force
  iterations: 120
  seed: 42
  relayout_on_expand: true
sessions:
  idle_ttl: 5m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5.0, cfg.Server.ExpandRate)
	assert.Equal(t, 40, cfg.Server.ExpandBurst)
	assert.Equal(t, "/tmp/fleet.db", cfg.Storage.DBPath)
	assert.Equal(t, 25, cfg.Expansion.DefaultLimit)
	assert.Equal(t, 500, cfg.Expansion.MaxLimit)
	assert.Equal(t, 120, cfg.Layout.Options.Iterations)
	assert.Equal(t, int64(42), cfg.Layout.Options.Seed)
	assert.Equal(t, 120.0, cfg.Layout.Options.NodeSep)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.IdleTTL)

	sc, err := cfg.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, layout.KindForce, sc.Layout)
	assert.True(t, sc.RelayoutOnExpand)
	assert.True(t, sc.Expand.IncludeSemantic)
	assert.Equal(t, 25, sc.Expand.Limit)

	q := cfg.Expansion.QueryConfig()
	assert.Equal(t, 0.6, q.MinScore)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "server:\n  adress: \":1\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adress")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"VYUHA_PORT":            "7000",
		"VYUHA_DB_PATH":         "/data/v.db",
		"VYUHA_AI_PROVIDER":     "ollama",
		"VYUHA_UPSTREAM_URL":    "http://graph:8080",
		"VYUHA_EXPAND_LIMIT":    "10",
		"VYUHA_EXPAND_SEMANTIC": "true",
		"VYUHA_LAYOUT":          "circle",
		"VYUHA_SESSION_TTL":     "90s",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "/data/v.db", cfg.Storage.DBPath)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, "http://graph:8080", cfg.Expansion.ClientConfig().BaseURL)
	assert.Equal(t, 10, cfg.Expansion.DefaultLimit)
	assert.True(t, cfg.Expansion.Semantic)
	assert.Equal(t, 90*time.Second, cfg.Sessions.IdleTTL)

	sc, err := cfg.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, layout.KindCircular, sc.Layout)
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"VYUHA_PORT":         "http",
		"VYUHA_EXPAND_LIMIT": "many",
		"VYUHA_SESSION_TTL":  "forever",
	}))
	require.Error(t, err)
	for _, key := range []string{"VYUHA_PORT", "VYUHA_EXPAND_LIMIT", "VYUHA_SESSION_TTL"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.Server.Addr = ""
	cfg.AI.Provider = "openai"
	cfg.Expansion.MaxLimit = 10
	cfg.Expansion.DefaultLimit = 20
	cfg.Layout.Mode = "spiral"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"log_level", "server.addr", "ai.provider", "expansion.max_limit", "layout.mode"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}

func TestAIConfig_ProviderConfig(t *testing.T) {
	cfg := Default()
	cfg.AI.Provider = "bedrock"
	cfg.AI.EmbeddingModel = "amazon.titan-embed-text-v2:0"
	pc := cfg.AI.ProviderConfig()
	require.NoError(t, pc.Validate())
	assert.Equal(t, "us-east-1", pc.Region)
}
