package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "teamsrelay/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestDisabledNotifierIsSilent(t *testing.T) {
	rec := &recorder{}
	n := New(false, logx.Nop())
	n.notify = rec.notify
	n.Ready()
	n.Stopping()
	assert.Zero(t, rec.count("READY=1"))
	assert.Zero(t, n.WatchdogInterval())

	var nilNotifier *Notifier
	nilNotifier.Ready()
}

func TestStateMessages(t *testing.T) {
	rec := &recorder{}
	n := New(true, logx.Nop())
	n.notify = rec.notify
	n.Ready()
	n.Status("serving")
	n.Reloading()
	n.Stopping()
	assert.Equal(t, []string{"READY=1", "STATUS=serving", "RELOADING=1", "STOPPING=1"}, rec.states)
}

func TestWatchdogPingsAtHalfInterval(t *testing.T) {
	rec := &recorder{}
	n := New(true, logx.Nop())
	n.notify = rec.notify
	n.watchdog = func() (time.Duration, error) { return 20 * time.Millisecond, nil }
	require.Equal(t, 10*time.Millisecond, n.WatchdogInterval())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.RunWatchdog(ctx, nil) }()
	require.Eventually(t, func() bool { return rec.count("WATCHDOG=1") >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestWatchdogWithheldWhenUnhealthy(t *testing.T) {
	rec := &recorder{}
	n := New(true, logx.Nop())
	n.notify = rec.notify
	n.watchdog = func() (time.Duration, error) { return 10 * time.Millisecond, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, n.RunWatchdog(ctx, func() bool { return false }))
	assert.Zero(t, rec.count("WATCHDOG=1"))
}

func TestWatchdogLookupErrorDisablesLoop(t *testing.T) {
	n := New(true, logx.Nop())
	n.watchdog = func() (time.Duration, error) { return 0, errors.New("bad WATCHDOG_USEC") }
	assert.Zero(t, n.WatchdogInterval())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, n.RunWatchdog(ctx, nil))
}
