package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

const (
	sweepLockKey    = "helpdesk:sla-sweeper:lock"
	breachDetails   = "SLA deadline exceeded"
	stopWaitTimeout = 5 * time.Second
)

// Locker grants a short-lived exclusive lease. release is nil when the lock
// was not acquired.
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (acquired bool, release func(context.Context), err error)
}

// SLASweeper periodically flags overdue unresolved tickets as breached.
type SLASweeper struct {
	tickets  repository.TicketRepository
	notifier service.Notifier
	locker   Locker
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time

	schedule string
	timeout  time.Duration
	lockTTL  time.Duration
	token    string

	cron      *cron.Cron
	startOnce sync.Once
	stopOnce  sync.Once
	running   sync.Mutex
	inflight  sync.WaitGroup
}

// SLASweeperDependencies bundles collaborators for the sweeper.
type SLASweeperDependencies struct {
	TicketRepo repository.TicketRepository
	Notifier   service.Notifier
	// Locker is optional; without it every replica sweeps.
	Locker  Locker
	Metrics *observability.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// NewSLASweeper builds a sweeper from configuration.
func NewSLASweeper(cfg config.SLAConfig, deps SLASweeperDependencies) *SLASweeper {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLASweeper{
		tickets:  deps.TicketRepo,
		notifier: deps.Notifier,
		locker:   deps.Locker,
		metrics:  deps.Metrics,
		logger:   logger.With(zap.String("worker", "sla_sweeper")),
		now:      now,
		schedule: cfg.SweepSchedule,
		timeout:  cfg.SweepTimeout(),
		lockTTL:  cfg.SweepLockTTL(),
		token:    uuid.NewString(),
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

// Run schedules the sweep, performs one immediately and blocks until ctx is
// cancelled.
func (w *SLASweeper) Run(ctx context.Context) error {
	var scheduleErr error
	w.startOnce.Do(func() {
		if _, err := w.cron.AddFunc(w.schedule, func() { w.tick(ctx) }); err != nil {
			scheduleErr = fmt.Errorf("schedule sla sweeper %q: %w", w.schedule, err)
			return
		}
		w.cron.Start()
		w.logger.Info("sla sweeper started", zap.String("schedule", w.schedule))
		w.inflight.Add(1)
		go func() {
			defer w.inflight.Done()
			w.tick(ctx)
		}()
	})
	if scheduleErr != nil {
		return scheduleErr
	}

	<-ctx.Done()
	w.stop()
	return nil
}

func (w *SLASweeper) stop() {
	w.stopOnce.Do(func() {
		cronDone := w.cron.Stop()
		finished := make(chan struct{})
		go func() {
			<-cronDone.Done()
			w.inflight.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(stopWaitTimeout):
			w.logger.Warn("timed out waiting for sla sweep to finish")
		}
		w.logger.Info("sla sweeper stopped")
	})
}

// tick runs one guarded sweep. Failures are logged and retried on the next
// tick.
func (w *SLASweeper) tick(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	if !w.running.TryLock() {
		w.logger.Debug("previous sweep still running; skipping tick")
		return
	}
	defer w.running.Unlock()

	ctx := parent
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, w.timeout)
		defer cancel()
	}

	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("sla sweep failed", zap.Error(err))
	}
}

// RunOnce performs a single sweep and returns the number of tickets flagged.
func (w *SLASweeper) RunOnce(ctx context.Context) (flagged int, err error) {
	start := time.Now()
	result := "success"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sla sweep panicked: %v", r)
		}
		if err != nil {
			result = "failure"
		}
		w.metrics.RecordSweep(result, flagged, time.Since(start))
	}()

	if w.locker != nil {
		acquired, release, lockErr := w.locker.TryLock(ctx, sweepLockKey, w.token, w.lockTTL)
		switch {
		case lockErr != nil:
			w.logger.Warn("sweep lock unavailable; sweeping without it", zap.Error(lockErr))
		case !acquired:
			result = "skipped"
			w.logger.Debug("another replica holds the sweep lock")
			return 0, nil
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	now := w.now()
	entry := domain.NewTimelineEntry(domain.ActionSLABreached, "", breachDetails, now)
	breached, err := w.tickets.MarkBreached(ctx, now, entry)
	if err != nil {
		return 0, fmt.Errorf("mark breached: %w", err)
	}

	for i := range breached {
		ticket := &breached[i]
		if w.notifier == nil {
			continue
		}
		if notifyErr := w.notifier.NotifySLABreach(ctx, ticket); notifyErr != nil {
			w.logger.Warn("sla breach notification failed",
				zap.String("ticket_id", ticket.ID),
				zap.Error(notifyErr))
		}
	}

	if len(breached) > 0 {
		w.logger.Info("sla breaches flagged", zap.Int("count", len(breached)))
	} else {
		w.logger.Debug("no sla breaches")
	}
	return len(breached), nil
}
