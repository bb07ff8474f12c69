package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  addr: "127.0.0.1:8080"
  metrics: true
  rate_per_sec: 5
  burst: 10
teams:
  tenant_id: "${TEST_TENANT}"
  client_id: client-1
  default_team_id: team-1
  default_channel_id: "19:general"
  default_format: markdown
logging:
  level: info
  console: true
audit:
  enabled: true
  driver: sqlite
  retention: 720h
  prune_schedule: "@hourly"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAMLExpandsEnvAndFallbacks(t *testing.T) {
	t.Setenv("TEST_TENANT", "tenant-from-env")
	t.Setenv(EnvClientSecret, "secret-from-env")
	t.Setenv(EnvClientID, "ignored")

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "tenant-from-env", cfg.Teams.TenantID)
	assert.Equal(t, "client-1", cfg.Teams.ClientID)
	assert.Equal(t, "secret-from-env", cfg.Teams.ClientSecret)
	assert.Equal(t, "markdown", cfg.Teams.DefaultFormat)
	assert.Equal(t, "sqlite", cfg.Audit.AuditDriver())
	assert.Equal(t, "./teamsrelay.db", cfg.Audit.AuditPath())
	assert.Same(t, cfg, m.Get())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"server":{"port":8080}}`))
	_, err := m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"server":{}} {"teams":{}}`))
	_, err := m.Parse()
	require.Error(t, err)
}

func TestParseYAMLDocuments(t *testing.T) {
	m := NewManager(writeFile(t, "config.yml", "server:\n  addr: \":9000\"\n---\nteams: {}\n"))
	_, err := m.Parse()
	require.ErrorContains(t, err, "multiple documents")

	m = NewManager(writeFile(t, "empty.yaml", ""))
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr())
}

func TestExpandEnvLeavesBareDollar(t *testing.T) {
	t.Setenv("X_SET", "value")
	got := expandEnv([]byte(`a: ${X_SET}, b: $X_SET, c: ${X_UNSET_FOR_TEST}`))
	assert.Equal(t, `a: value, b: $X_SET, c: `, string(got))
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Addr: "0.0.0.0:8080", ReadTimeout: "soon"},
		Teams:  TeamsConfig{DefaultFormat: "rtf"},
		Debug:  DebugConfig{Pprof: PprofConfig{Enabled: true}},
		Audit:  AuditConfig{PruneSchedule: "every day"},
		Events: EventsConfig{Kafka: KafkaConfig{Enabled: true}},
	}
	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "teams.default_format")
	assert.Contains(t, msg, "events.kafka.brokers")
	assert.Contains(t, msg, "events.kafka.topic")
	assert.Contains(t, msg, "server.read_timeout")
	assert.Contains(t, msg, "audit.prune_schedule")
	assert.Contains(t, msg, "debug.pprof")
}

func TestValidateAcceptsMinimal(t *testing.T) {
	require.NoError(t, Validate(&Config{}))
	require.NoError(t, Validate(&Config{Debug: DebugConfig{Pprof: PprofConfig{Enabled: true}}, Server: ServerConfig{Addr: "127.0.0.1:9000"}}))
}

func TestLoadDotenv(t *testing.T) {
	require.NoError(t, LoadDotenv(filepath.Join(t.TempDir(), "missing.env"), false))
	require.Error(t, LoadDotenv(filepath.Join(t.TempDir(), "missing.env"), true))

	p := writeFile(t, ".env", "TEAMSRELAY_DOTENV_TEST=loaded\n")
	t.Cleanup(func() { _ = os.Unsetenv("TEAMSRELAY_DOTENV_TEST") })
	require.NoError(t, LoadDotenv(p, true))
	assert.Equal(t, "loaded", os.Getenv("TEAMSRELAY_DOTENV_TEST"))
}

func TestReloadSkipsUnchangedAndPublishes(t *testing.T) {
	p := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600))
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}

func TestReloadRejectsInvalid(t *testing.T) {
	p := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p)
	before, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"loud"}}`), 0o600))
	changed, err := m.Reload(context.Background())
	require.Error(t, err)
	assert.False(t, changed)
	assert.Same(t, before, m.Get())
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)
}
