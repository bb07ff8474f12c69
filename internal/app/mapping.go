package app

import (
	"time"

	"teamsrelay/internal/alert"
	"teamsrelay/internal/audit"
	"teamsrelay/internal/config"
	"teamsrelay/internal/server"
	"teamsrelay/internal/storage"
	"teamsrelay/internal/teams"
	logx "teamsrelay/pkg/logx"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultBusyTimeout     = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    lc.Telegram.Enabled,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapAlertConfig(cfg *config.Config) (alert.Config, bool) {
	tc := cfg.Logging.Telegram
	if !tc.Enabled {
		return alert.Config{}, false
	}
	return alert.Config{Token: tc.Token, ChatID: tc.ChatID, ThreadID: tc.ThreadID}, true
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	sc := cfg.Server
	read, err := config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, defaultReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, defaultWriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	shutdown, err := config.ParseDurationOrDefault("server.shutdown_timeout", sc.ShutdownTimeout, defaultShutdownTimeout)
	if err != nil {
		return server.Config{}, err
	}
	pc := cfg.Debug.Pprof
	return server.Config{
		Addr:            sc.ListenAddr(),
		APIToken:        sc.APIToken,
		CORSOrigins:     sc.CORSOrigins,
		Metrics:         sc.Metrics,
		RatePerSec:      sc.RatePerSec,
		Burst:           sc.Burst,
		ReadTimeout:     read,
		WriteTimeout:    write,
		ShutdownTimeout: shutdown,
		Pprof: server.PprofConfig{
			Enabled:              pc.Enabled,
			Prefix:               pc.MountPrefix(),
			Token:                pc.Token,
			MutexProfileFraction: pc.MutexProfileFraction,
			BlockProfileRate:     pc.BlockProfileRate,
			MemProfileRate:       pc.MemProfileRate,
		},
	}, nil
}

func mapRelaySettings(cfg *config.Config) (teams.Settings, error) {
	tc := cfg.Teams
	timeout, err := config.ParseDurationField("teams.http_timeout", tc.HTTPTimeout)
	if err != nil {
		return teams.Settings{}, err
	}
	return teams.Settings{
		Credentials: teams.Credentials{
			TenantID:     tc.TenantID,
			ClientID:     tc.ClientID,
			ClientSecret: tc.ClientSecret,
		},
		Defaults: teams.Defaults{
			TeamID:    tc.DefaultTeamID,
			ChannelID: tc.DefaultChannelID,
			Format:    tc.DefaultFormat,
		},
		GraphBaseURL: tc.GraphBaseURL,
		LoginBaseURL: tc.LoginBaseURL,
		HTTPTimeout:  timeout,
	}, nil
}

// mapStorageConfig returns enabled=false when the audit trail is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	ac := cfg.Audit
	if !ac.Enabled {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("audit.busy_timeout", ac.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: ac.AuditDriver(), Path: ac.AuditPath(), BusyTimeout: busy}, true, nil
}

func mapRetention(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationField("audit.retention", cfg.Audit.Retention)
}

func mapKafkaConfig(cfg *config.Config) (audit.KafkaConfig, bool, error) {
	kc := cfg.Events.Kafka
	if !kc.Enabled {
		return audit.KafkaConfig{}, false, nil
	}
	bt, err := config.ParseDurationField("events.kafka.batch_timeout", kc.BatchTimeout)
	if err != nil {
		return audit.KafkaConfig{}, false, err
	}
	return audit.KafkaConfig{Brokers: kc.Brokers, Topic: kc.Topic, BatchTimeout: bt}, true, nil
}

// validateMapping rejects configs that parse but cannot be mapped onto the
// running components.
func validateMapping(cfg *config.Config) error {
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRelaySettings(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRetention(cfg); err != nil {
		return err
	}
	if _, _, err := mapKafkaConfig(cfg); err != nil {
		return err
	}
	return nil
}
