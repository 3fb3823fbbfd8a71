package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/luojidr/easypush/internal/dedup"
	"github.com/luojidr/easypush/pkg/logger"
)

type cacheRebuilder interface {
	RebuildFromHistory(ctx context.Context, hist dedup.History, windowDays int) (map[string]int64, error)
}

// RebuildJob recomputes the fingerprint cache from the relational store on a
// cron schedule, and once immediately at startup so a cold cache does not
// re-admit known duplicates.
type RebuildJob struct {
	cache      cacheRebuilder
	history    dedup.History
	windowDays int
	spec       string

	cron *cron.Cron

	mu          sync.RWMutex
	lastRunAt   time.Time
	lastEntries int
	lastErr     error
}

func NewRebuildJob(cache cacheRebuilder, history dedup.History, windowDays int, spec string) *RebuildJob {
	return &RebuildJob{
		cache:      cache,
		history:    history,
		windowDays: windowDays,
		spec:       spec,
	}
}

// Start runs one rebuild synchronously, then schedules the recurring job.
// The startup rebuild failing is not fatal: the cache degrades to admitting
// a few redundant rows until the next scheduled run.
func (j *RebuildJob) Start(ctx context.Context) error {
	j.runOnce(ctx)

	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.spec, func() { j.runOnce(ctx) })
	if err != nil {
		return err
	}

	j.cron.Start()
	logger.Infof("Fingerprint rebuild scheduled: %q (window %dd)", j.spec, j.windowDays)

	return nil
}

func (j *RebuildJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *RebuildJob) runOnce(ctx context.Context) {
	start := time.Now()

	mapping, err := j.cache.RebuildFromHistory(ctx, j.history, j.windowDays)

	j.mu.Lock()
	j.lastRunAt = start
	j.lastErr = err
	j.lastEntries = len(mapping)
	j.mu.Unlock()

	if err != nil {
		logger.Errorf("Fingerprint rebuild failed: %v", err)
		return
	}

	logger.Infof("Fingerprint rebuild finished in %v (%d entries)", time.Since(start), len(mapping))
}

// LastRun reports the most recent rebuild attempt.
func (j *RebuildJob) LastRun() (at time.Time, entries int, err error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastRunAt, j.lastEntries, j.lastErr
}
