package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// AuditEntry records one notify outcome. Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	RequestID  string    `json:"request_id,omitempty"`
	Outcome    string    `json:"outcome"`
	TargetType string    `json:"target_type,omitempty"`
	TeamID     string    `json:"team_id,omitempty"`
	ChannelID  string    `json:"channel_id,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Format     string    `json:"format,omitempty"`
	Status     int       `json:"status,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}
