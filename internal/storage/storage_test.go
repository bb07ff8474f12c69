package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "teamsrelay/pkg/logx"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, drv := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: drv, Path: filepath.Join(dir, "audit-"+drv+".db")}, logx.Nop())
		require.NoError(t, err, drv)
		t.Cleanup(func() { _ = st.Close() })
		out[drv] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestAppendRecentPrune(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					At:         base.Add(time.Duration(i) * time.Hour),
					RequestID:  "req",
					Outcome:    OutcomeSent,
					TargetType: "chat",
					ChatID:     "19:chat",
					MessageID:  "m" + string(rune('0'+i)),
					Format:     "text",
					Status:     200,
				}))
			}

			recent, err := st.RecentAudit(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "m2", recent[0].MessageID)
			assert.Equal(t, "m1", recent[1].MessageID)
			assert.True(t, recent[0].At.Equal(base.Add(2*time.Hour)))
			assert.Equal(t, "19:chat", recent[0].ChatID)

			n, err := st.PruneAudit(ctx, base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			left, err := st.RecentAudit(ctx, 10)
			require.NoError(t, err)
			require.Len(t, left, 1)
			assert.Equal(t, "m2", left[0].MessageID)

			require.NoError(t, st.AppendAudit(ctx, AuditEntry{Outcome: OutcomeFailed, ErrorKind: "remote", Status: 429}))
			left, err = st.RecentAudit(ctx, 10)
			require.NoError(t, err)
			assert.Len(t, left, 2)
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "a")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.AppendAudit(context.Background(), AuditEntry{}), ErrClosed)
}

func TestFilePruneKeepsUndecodableLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "a.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: base, Outcome: OutcomeSent, MessageID: "old"}))

	path := filepath.Join(dir, "a.audit.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{\"at\": not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: base.Add(2 * time.Hour), Outcome: OutcomeSent, MessageID: "new"}))

	n, err := st.PruneAudit(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "{\"at\": not json\n")
	assert.NotContains(t, string(raw), `"old"`)

	left, err := st.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].MessageID)
}
