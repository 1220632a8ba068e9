package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

// UserLister returns every user owning at least one recurring definition.
type UserLister interface {
	ListRecurringUsers(ctx context.Context) ([]string, error)
}

// DueProcessor materializes owed occurrences for one user.
type DueProcessor interface {
	ProcessDue(ctx context.Context, userID string) (*services.ProcessResult, error)
}

// SweepReport aggregates one sweep over all users.
type SweepReport struct {
	Users     int
	Failed    int
	Created   int
	Skipped   int
	Truncated int
	Duration  time.Duration
}

// RecurringSweeper runs the recurring processor for every user.
type RecurringSweeper struct {
	users       UserLister
	processor   DueProcessor
	concurrency int
}

func NewRecurringSweeper(users UserLister, processor DueProcessor, concurrency int) *RecurringSweeper {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &RecurringSweeper{users: users, processor: processor, concurrency: concurrency}
}

// Sweep processes every user with at most concurrency users in flight. A
// failing user is logged and counted; it never stops the others.
func (s *RecurringSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	users, err := s.users.ListRecurringUsers(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list recurring users: %w", err)
	}

	var (
		mu     sync.Mutex
		report = SweepReport{Users: len(users)}
		g      errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.processor.ProcessDue(ctx, userID)

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				report.Created += len(res.Transactions)
				report.Skipped += len(res.Failures)
				report.Truncated += len(res.Truncated)
			}
			if err != nil {
				report.Failed++
				slog.ErrorContext(ctx, "Recurring processing failed for user",
					applog.FieldUserID, userID,
					applog.FieldError, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	slog.InfoContext(ctx, "Recurring sweep complete",
		applog.FieldOperation, applog.OpSweep,
		"users", report.Users,
		"failed", report.Failed,
		"created", report.Created,
		"skipped", report.Skipped,
		"truncated", report.Truncated,
		"duration", report.Duration)
	return report, nil
}
