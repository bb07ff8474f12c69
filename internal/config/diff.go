package config

import (
	"reflect"
	"sort"
	"strings"

	logx "teamsrelay/pkg/logx"
)

// SummarizeConfigChange returns (1) the sorted list of changed sections and
// (2) safe structured attrs for logging. Secrets are reported only as *_set flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	oSrv, nSrv := oldCfg.Server, newCfg.Server
	if oSrv.ListenAddr() != nSrv.ListenAddr() ||
		!reflect.DeepEqual(oSrv.CORSOrigins, nSrv.CORSOrigins) ||
		oSrv.Metrics != nSrv.Metrics ||
		oSrv.RatePerSec != nSrv.RatePerSec ||
		oSrv.Burst != nSrv.Burst ||
		oSrv.ReadTimeout != nSrv.ReadTimeout ||
		oSrv.WriteTimeout != nSrv.WriteTimeout ||
		oSrv.ShutdownTimeout != nSrv.ShutdownTimeout ||
		oSrv.APIToken != nSrv.APIToken {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", nSrv.ListenAddr()),
			logx.Bool("server.metrics", nSrv.Metrics),
			logx.Any("server.rate_per_sec", nSrv.RatePerSec),
			logx.Int("server.burst", nSrv.Burst),
			logx.Int("server.cors_origins", len(nSrv.CORSOrigins)),
			logx.Bool("server.api_token_set", isSet(nSrv.APIToken)),
		)
	}

	ot, nt := oldCfg.Teams, newCfg.Teams
	credsChanged := ot.TenantID != nt.TenantID || ot.ClientID != nt.ClientID || ot.ClientSecret != nt.ClientSecret
	if credsChanged ||
		ot.DefaultTeamID != nt.DefaultTeamID ||
		ot.DefaultChannelID != nt.DefaultChannelID ||
		ot.DefaultFormat != nt.DefaultFormat ||
		ot.GraphBaseURL != nt.GraphBaseURL ||
		ot.LoginBaseURL != nt.LoginBaseURL ||
		ot.HTTPTimeout != nt.HTTPTimeout {
		changed = append(changed, "teams")
		attrs = append(attrs,
			logx.Bool("teams.credentials_changed", credsChanged),
			logx.Bool("teams.tenant_id_set", isSet(nt.TenantID)),
			logx.Bool("teams.client_id_set", isSet(nt.ClientID)),
			logx.Bool("teams.client_secret_set", isSet(nt.ClientSecret)),
			logx.Bool("teams.default_team_set", isSet(nt.DefaultTeamID)),
			logx.Bool("teams.default_channel_set", isSet(nt.DefaultChannelID)),
			logx.String("teams.default_format", nt.DefaultFormat),
			logx.String("teams.http_timeout", strings.TrimSpace(nt.HTTPTimeout)),
		)
	}

	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol.Level != nl.Level ||
		ol.Console != nl.Console ||
		ol.File != nl.File ||
		ol.Telegram != nl.Telegram {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	op, np := oldCfg.Debug.Pprof, newCfg.Debug.Pprof
	if op != np {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.pprof.enabled", np.Enabled),
			logx.String("debug.pprof.prefix", np.MountPrefix()),
			logx.Bool("debug.pprof.token_set", isSet(np.Token)),
			logx.Bool("debug.pprof.allow_insecure", np.AllowInsecure),
		)
	}

	if oldCfg.Audit != newCfg.Audit {
		na := newCfg.Audit
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.Bool("audit.enabled", na.Enabled),
			logx.String("audit.driver", na.AuditDriver()),
			logx.String("audit.retention", strings.TrimSpace(na.Retention)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		nk := newCfg.Events.Kafka
		changed = append(changed, "events")
		attrs = append(attrs,
			logx.Bool("events.kafka.enabled", nk.Enabled),
			logx.Int("events.kafka.brokers", len(nk.Brokers)),
			logx.String("events.kafka.topic", nk.Topic),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.enabled", newCfg.Systemd.Enabled),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed settings that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Server.ListenAddr() != newCfg.Server.ListenAddr() {
		out = append(out, "server.addr")
	}
	if oldCfg.Server.ReadTimeout != newCfg.Server.ReadTimeout || oldCfg.Server.WriteTimeout != newCfg.Server.WriteTimeout {
		out = append(out, "server.timeouts")
	}
	if !reflect.DeepEqual(oldCfg.Server.CORSOrigins, newCfg.Server.CORSOrigins) {
		out = append(out, "server.cors_origins")
	}
	if oldCfg.Debug.Pprof.MountPrefix() != newCfg.Debug.Pprof.MountPrefix() {
		out = append(out, "debug.pprof.prefix")
	}
	if oldCfg.Audit.Enabled != newCfg.Audit.Enabled ||
		oldCfg.Audit.AuditDriver() != newCfg.Audit.AuditDriver() ||
		oldCfg.Audit.AuditPath() != newCfg.Audit.AuditPath() {
		out = append(out, "audit.storage")
	}
	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		out = append(out, "events")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		out = append(out, "systemd")
	}
	return out
}

func isSet(s string) bool { return strings.TrimSpace(s) != "" }
