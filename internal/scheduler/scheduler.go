// Package scheduler runs the recurring background jobs: inbox polling, owner
// verdict processing and follow-up drafting.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// jobTimeout bounds a single run; a hung job must not block the next tick of
// the others.
const jobTimeout = 5 * time.Minute

type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl))),
		logger: logger,
	}
}

// Every registers job to run at the given interval, starting one interval
// after Start.
func (s *Scheduler) Every(interval time.Duration, name string, job Job) error {
	if interval <= 0 {
		return errors.New("interval must be > 0")
	}
	if name == "" || job == nil {
		return errors.New("name and job are required")
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("scheduled job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to the cron logging interface. Only used for panic
// recovery output; routine scheduling chatter stays off.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
