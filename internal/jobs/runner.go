// Package jobs runs periodic work at most once at a time: singleflight
// collapses concurrent callers in one process, a Redis lock excludes other
// processes.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/redisx"
	"golang.org/x/sync/singleflight"
)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type Runner struct {
	Locker  Locker // nil runs without cross-process exclusion
	Logger  *slog.Logger
	LockTTL time.Duration

	group singleflight.Group
}

func NewRunner(locker Locker, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Locker: locker, Logger: logger, LockTTL: 10 * time.Minute}
}

// Do runs fn under the job's name. A caller arriving while the same job
// runs in this process shares its result; one running elsewhere yields
// ErrJobRunning.
func (r *Runner) Do(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	v, err, _ := r.group.Do(name, func() (any, error) {
		if r.Locker != nil {
			release, err := r.Locker.Acquire(ctx, fmt.Sprintf(redisx.KeyJobLock, name), r.LockTTL)
			if errors.Is(err, redisx.ErrNotAcquired) {
				return nil, apperr.WithMessage(apperr.ErrJobRunning, "job "+name+" is already running")
			}
			if err != nil {
				return nil, fmt.Errorf("job %s lock: %w", name, err)
			}
			defer release()
		}
		start := time.Now()
		v, err := fn(ctx)
		r.Logger.Info("job finished", "job", name, "took", time.Since(start), "err", err)
		return v, err
	})
	return v, err
}

// Every runs fn immediately and then on each tick until ctx ends. Errors
// are logged; the schedule continues.
func (r *Runner) Every(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) (any, error)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := r.Do(ctx, name, fn); err != nil && !errors.Is(err, apperr.ErrJobRunning) && ctx.Err() == nil {
			r.Logger.Error("job failed", "job", name, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
