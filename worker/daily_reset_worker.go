package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/models"
	"outreach/repository"
	"outreach/utils"
)

// DailyResetWorker zeroes the per-account send counters at UTC midnight.
// Counters are also read lazily against their reset date, so a missed run
// never lets an account exceed its limit.
type DailyResetWorker struct {
	accounts repository.AccountStore
	logger   *logrus.Entry
	now      func() time.Time
}

func NewDailyResetWorker(accounts repository.AccountStore, logger *logrus.Entry) *DailyResetWorker {
	if logger == nil {
		logger = logrus.WithField("component", "daily_reset_worker")
	}
	return &DailyResetWorker{
		accounts: accounts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *DailyResetWorker) Start(ctx context.Context) {
	w.logger.Info("Daily reset worker started")
	w.Reset(ctx)

	for {
		wait := w.untilMidnight()
		select {
		case <-time.After(wait):
			w.Reset(ctx)
		case <-ctx.Done():
			w.logger.Info("Daily reset worker shutting down...")
			return
		}
	}
}

func (w *DailyResetWorker) untilMidnight() time.Duration {
	now := w.now()
	next := models.StartOfUTCDay(now).Add(24 * time.Hour)
	return next.Sub(now) + time.Second
}

// Reset zeroes counters that belong to an earlier day.
func (w *DailyResetWorker) Reset(ctx context.Context) int64 {
	dayStart := models.StartOfUTCDay(w.now())
	n, err := w.accounts.ResetDailyCounters(ctx, dayStart)
	if err != nil {
		utils.CaptureError("daily_reset", err, map[string]interface{}{"day": dayStart.Format("2006-01-02")})
		return 0
	}
	w.logger.WithFields(logrus.Fields{"accounts": n, "day": dayStart.Format("2006-01-02")}).Info("Daily send counters reset")
	return n
}
