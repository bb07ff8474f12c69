package audit

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"teamsrelay/internal/storage"
	logx "teamsrelay/pkg/logx"
)

// Pruner deletes audit entries older than the retention window.
type Pruner struct {
	store     storage.Store
	retention time.Duration
	schedule  string
	log       logx.Logger
	now       func() time.Time
}

func NewPruner(store storage.Store, retention time.Duration, schedule string, log logx.Logger) *Pruner {
	if strings.TrimSpace(schedule) == "" {
		schedule = "@daily"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pruner{
		store:     store,
		retention: retention,
		schedule:  strings.TrimSpace(schedule),
		log:       log.With(logx.String("comp", "audit.prune")),
		now:       time.Now,
	}
}

// PruneOnce runs a single pass. Zero retention keeps everything.
func (p *Pruner) PruneOnce(ctx context.Context) (int, error) {
	if p.store == nil || p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneAudit(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.log.Info("audit pruned", logx.Int("removed", n), logx.Time("before", cutoff))
	}
	return n, nil
}

// Run prunes once at start, then on the cron schedule until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	if p.store == nil || p.retention <= 0 {
		<-ctx.Done()
		return nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))
	if _, err := c.AddFunc(p.schedule, func() { p.runJob(ctx) }); err != nil {
		return err
	}
	p.runJob(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (p *Pruner) runJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := p.PruneOnce(pctx); err != nil {
		p.log.Warn("audit prune failed", logx.Err(err))
	}
}
