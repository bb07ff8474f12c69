package config

import "strings"

type Config struct {
	Server  ServerConfig  `json:"server"`
	Teams   TeamsConfig   `json:"teams"`
	Logging LoggingConfig `json:"logging"`
	Debug   DebugConfig   `json:"debug,omitempty"`
	Audit   AuditConfig   `json:"audit,omitempty"`
	Events  EventsConfig  `json:"events,omitempty"`
	Systemd SystemdConfig `json:"systemd,omitempty"`
}

// ServerConfig controls the inbound HTTP server.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - addr: ":8080"
//   - read_timeout: "15s"
//   - write_timeout: "60s"
//   - shutdown_timeout: "10s"
//   - rate_per_sec: 0 (limiter disabled)
type ServerConfig struct {
	Addr string `json:"addr,omitempty" validate:"omitempty,hostname_port"`

	// APIToken guards /notify and /validate with a bearer token when set (do not log).
	APIToken string `json:"api_token,omitempty"`

	CORSOrigins []string `json:"cors_origins,omitempty"`
	Metrics     bool     `json:"metrics"`

	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst      int     `json:"burst,omitempty" validate:"gte=0"`

	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// TeamsConfig holds the app registration and the default destination.
//
// Credentials may be left empty and supplied through TEAMS_TENANT_ID,
// TEAMS_CLIENT_ID and TEAMS_CLIENT_SECRET.
type TeamsConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	DefaultTeamID    string `json:"default_team_id,omitempty"`
	DefaultChannelID string `json:"default_channel_id,omitempty"`
	DefaultFormat    string `json:"default_format,omitempty" validate:"omitempty,oneof=html markdown text"`

	GraphBaseURL string `json:"graph_base_url,omitempty" validate:"omitempty,url"`
	LoginBaseURL string `json:"login_base_url,omitempty" validate:"omitempty,url"`

	// HTTPTimeout bounds each outbound call. "0s" keeps the transport default.
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards high-severity log lines to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty" validate:"required_if=Enabled true"`
	ChatID     int64  `json:"chat_id,omitempty" validate:"required_if=Enabled true"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty" validate:"omitempty,oneof=debug info warn warning error"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

type DebugConfig struct {
	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig mounts net/http/pprof on the main server.
//
// Security note:
//   - If server.addr is not loopback, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof"
	Token         string `json:"token,omitempty"`  // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty" validate:"gte=0"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty" validate:"gte=0"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty" validate:"gte=0"`
}

// AuditConfig controls the delivery audit trail. Message bodies are never stored.
//
// Example:
//
//	audit: { enabled: true, driver: sqlite, path: ./teamsrelay.db, retention: 720h }
type AuditConfig struct {
	Enabled     bool   `json:"enabled"`
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	// Retention drops entries older than this duration. "0s" keeps everything.
	Retention     string `json:"retention,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"` // cron spec, default "@daily"
	Buffer        int    `json:"buffer,omitempty" validate:"gte=0"`
}

type EventsConfig struct {
	Kafka KafkaConfig `json:"kafka"`
}

// KafkaConfig publishes delivery events to a topic.
type KafkaConfig struct {
	Enabled      bool     `json:"enabled"`
	Brokers      []string `json:"brokers,omitempty" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic        string   `json:"topic,omitempty" validate:"required_if=Enabled true"`
	BatchTimeout string   `json:"batch_timeout,omitempty"`
}

type SystemdConfig struct {
	Enabled bool `json:"enabled"`
	// Watchdog pings WATCHDOG=1 at half of WATCHDOG_USEC when the unit sets it.
	Watchdog bool `json:"watchdog,omitempty"`
}

const (
	DefaultAddr          = ":8080"
	DefaultPprofPrefix   = "/debug/pprof"
	DefaultAuditDriver   = "file"
	DefaultAuditPath     = "./teamsrelay_audit"
	DefaultPruneSchedule = "@daily"
)

// AuditDriver returns the normalized driver name.
func (c AuditConfig) AuditDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return DefaultAuditDriver
	}
	return d
}

func (c AuditConfig) AuditPath() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	if c.AuditDriver() == "sqlite" {
		return "./teamsrelay.db"
	}
	return DefaultAuditPath
}

func (c ServerConfig) ListenAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

func (c PprofConfig) MountPrefix() string {
	p := strings.TrimRight(strings.TrimSpace(c.Prefix), "/")
	if p == "" {
		return DefaultPprofPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
