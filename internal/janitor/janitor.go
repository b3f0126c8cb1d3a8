package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"imagegate/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const DefaultSchedule = "@every 30m"

// Sweeper removes stale files. storage.Scratch satisfies it.
type Sweeper interface {
	Sweep(maxAge time.Duration, now time.Time) (int, error)
}

// Janitor periodically clears the scratch directory of files that a
// crashed or aborted request left behind.
type Janitor struct {
	sweeper  Sweeper
	maxAge   time.Duration
	schedule string
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(sweeper Sweeper, maxAge time.Duration, schedule string) *Janitor {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Janitor{sweeper: sweeper, maxAge: maxAge, schedule: schedule, now: time.Now}
}

// RunOnce sweeps immediately and returns the number of removed files.
func (j *Janitor) RunOnce() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	removed, err := j.sweeper.Sweep(j.maxAge, j.now())
	if err != nil {
		logrus.WithError(err).Warn("scratch_sweep_failed")
		return removed, err
	}
	if removed > 0 {
		metrics.ScratchSwept.Add(float64(removed))
		logrus.WithField("removed", removed).Info("scratch_swept")
	}
	return removed, nil
}

// Start schedules the sweep. Calling Start twice is an error.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() {
		_, _ = j.RunOnce()
	}); err != nil {
		return fmt.Errorf("schedule scratch sweep %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c
	logrus.WithField("schedule", j.schedule).Info("janitor_started")
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
