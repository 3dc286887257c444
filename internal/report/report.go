// Package report periodically logs the carrier ranking on a cron schedule.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/telecomverify/telecom/internal/verification"
)

// Ranker is the read side of the verification repo used by the report.
type Ranker interface {
	Rank() []verification.RankEntry
	RankWithin(d time.Duration) []verification.RankEntry
}

// Reporter logs the ranking at every tick of a cron expression.
type Reporter struct {
	schedule string
	window   time.Duration // 0 ranks the whole log
	ranker   Ranker
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Reporter. schedule must be a valid cron expression.
func New(schedule string, window time.Duration, ranker Ranker, logger *slog.Logger) (*Reporter, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid cron expression %q", schedule)
	}
	return &Reporter{
		schedule: schedule,
		window:   window,
		ranker:   ranker,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// NextTime computes the next tick of cronExpr strictly after ref.
func NextTime(cronExpr string, ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(cronExpr, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute next tick for %q: %w", cronExpr, err)
	}
	return next, nil
}

// Start runs the report loop in the background until ctx is canceled or
// Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("ranking report started", "schedule", r.schedule, "window", r.window)
}

// Stop signals the loop to exit and waits for it.
func (r *Reporter) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reporter) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		next, err := NextTime(r.schedule, r.now())
		if err != nil {
			r.logger.Error("ranking report stopped", "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.Tick()
		}
	}
}

// Tick logs the current ranking once.
func (r *Reporter) Tick() {
	var rank []verification.RankEntry
	if r.window > 0 {
		rank = r.ranker.RankWithin(r.window)
	} else {
		rank = r.ranker.Rank()
	}

	attrs := []any{"carriers", len(rank)}
	if r.window > 0 {
		attrs = append(attrs, "window", r.window.String())
	}
	if len(rank) > 0 {
		attrs = append(attrs, "best", rank[0].Carrier, "best_score", rank[0].Score)
	}
	attrs = append(attrs, "rank", rank)
	r.logger.Info("carrier ranking", attrs...)
}
