package daemon

import (
	"context"
	"log"
	"time"

	"github.com/labmgr/labmgr/internal/db"
)

const defaultJournalPruneInterval = time.Hour

// JournalPruner deletes lifecycle events older than the retention window.
type JournalPruner struct {
	store     *db.Store
	retention time.Duration
	logger    *log.Logger
	now       func() time.Time
	interval  time.Duration
}

// NewJournalPruner keeps retentionDays of events. Zero days disables pruning.
func NewJournalPruner(store *db.Store, retentionDays int, logger *log.Logger) *JournalPruner {
	if logger == nil {
		logger = log.Default()
	}
	return &JournalPruner{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
		interval:  defaultJournalPruneInterval,
	}
}

// Start prunes immediately and then on an interval until ctx is done.
func (p *JournalPruner) Start(ctx context.Context) {
	if p == nil || p.store == nil || p.retention <= 0 || p.interval <= 0 {
		return
	}
	p.run(ctx)
	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.run(ctx)
			}
		}
	}()
}

func (p *JournalPruner) run(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneEvents(ctx, cutoff)
	if err != nil {
		p.logger.Printf("labmgrd: journal prune error: %v", err)
		return
	}
	if n > 0 {
		p.logger.Printf("labmgrd: pruned %d journal events older than %s", n, cutoff.UTC().Format(time.RFC3339))
	}
}
