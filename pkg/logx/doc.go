// Package logx configures teamsrelay's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional alert sink (min-level + rate limiting) for operator chats
//
// Secrets (client secrets, bearer tokens) must never be passed as fields.
package logx
