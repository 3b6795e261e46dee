package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the close sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// CampaignCloser closes campaigns whose end date has passed.
type CampaignCloser interface {
	CloseExpired(ctx context.Context, now time.Time) (int, error)
}

// CampaignSweeper periodically closes expired campaigns. It only changes
// campaign status; payments arriving for a closed campaign are still recorded.
type CampaignSweeper struct {
	campaigns CampaignCloser
	cron      *cron.Cron
	timeout   time.Duration
	now       func() time.Time
}

// NewCampaignSweeper schedules the sweep on schedule (robfig/cron syntax,
// including descriptors such as "@every 5m"). Call Start to run it.
func NewCampaignSweeper(campaigns CampaignCloser, schedule string) (*CampaignSweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &CampaignSweeper{
		campaigns: campaigns,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout:   time.Minute,
		now:       time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("campaign sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *CampaignSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		slog.Error("campaign sweep failed", "error", err)
	}
}

// Sweep closes every expired campaign once, synchronously.
func (s *CampaignSweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.campaigns.CloseExpired(ctx, s.now())
	if err != nil {
		return 0, storageError("close expired campaigns", err)
	}
	if n > 0 {
		slog.Info("expired campaigns closed", "count", n)
	}
	return n, nil
}

// Start launches the cron scheduler.
func (s *CampaignSweeper) Start() {
	s.cron.Start()
	slog.Info("campaign sweeper started")
}

// Stop stops the scheduler and waits for a running sweep, or for ctx.
func (s *CampaignSweeper) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	slog.Info("campaign sweeper stopped")
}
