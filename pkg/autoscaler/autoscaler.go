// Package autoscaler implements the Autoscaler hook: it derives
// scale-up backlog and scale-down idleness signals from queue and slot
// state. Consumption of these signals (actually adding/removing
// workers) is external to this core.
package autoscaler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/khryptorgraphics/subtaskscheduler/internal/config"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
)

// Signal is emitted on every poll at which a band is past a backlog or
// idle threshold, not only on the poll where it first crosses it.
type Signal struct {
	Kind SignalKind
	Band band.Band
	At   time.Time
}

// SignalKind names which of the two autoscale conditions fired.
type SignalKind int

const (
	SchedulerBacklog SignalKind = iota
	WorkerIdle
)

func (k SignalKind) String() string {
	if k == SchedulerBacklog {
		return "scheduler_backlog"
	}
	return "worker_idle"
}

// QueueState is the minimal view of a band's current activity the
// Autoscaler needs; callers are expected to wire this against
// bandqueue.BandQueue.Len and the SubmitLoop's notion of in-flight
// (SUBMITTED/RUNNING) subtasks.
type QueueState interface {
	QueueDepth(b band.Band) int
	RunningCount(b band.Band) int
	Bands() []band.Band
}

type bandTimers struct {
	nonEmptySince time.Time
	idleSince     time.Time
}

// Autoscaler polls QueueState on a timer and emits Signal values on its
// output channel once a band has been backlogged or idle longer than
// the configured timeouts.
type Autoscaler struct {
	cfg    *config.Config
	state  QueueState
	logger *slog.Logger

	pollInterval time.Duration

	mu     sync.Mutex
	timers map[band.Band]*bandTimers

	out chan Signal
}

// New constructs an Autoscaler. pollInterval governs how often band
// state is sampled; it should be small relative to the configured
// backlog/idle timeouts.
func New(cfg *config.Config, state QueueState, pollInterval time.Duration, logger *slog.Logger) *Autoscaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Autoscaler{
		cfg:          cfg,
		state:        state,
		logger:       logger.With("component", "autoscaler"),
		pollInterval: pollInterval,
		timers:       make(map[band.Band]*bandTimers),
		out:          make(chan Signal, 16),
	}
}

// Signals returns the channel Autoscaler emits on. It is never closed
// while Run is active; callers should drain it alongside Run's
// lifetime.
func (a *Autoscaler) Signals() <-chan Signal { return a.out }

// Run polls until ctx is cancelled.
func (a *Autoscaler) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.poll(time.Now())
		}
	}
}

func (a *Autoscaler) poll(now time.Time) {
	bands := a.state.Bands()

	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[band.Band]bool, len(bands))
	for _, b := range bands {
		seen[b] = true
		t, ok := a.timers[b]
		if !ok {
			t = &bandTimers{}
			a.timers[b] = t
		}

		depth := a.state.QueueDepth(b)
		running := a.state.RunningCount(b)

		if depth > 0 {
			if t.nonEmptySince.IsZero() {
				t.nonEmptySince = now
			}
			if now.Sub(t.nonEmptySince) >= a.cfg.Autoscale.SchedulerBacklogTimeout {
				a.emit(Signal{Kind: SchedulerBacklog, Band: b, At: now})
			}
		} else {
			t.nonEmptySince = time.Time{}
		}

		if depth == 0 && running == 0 {
			if t.idleSince.IsZero() {
				t.idleSince = now
			}
			if now.Sub(t.idleSince) >= a.cfg.Autoscale.WorkerIdleTimeout {
				a.emit(Signal{Kind: WorkerIdle, Band: b, At: now})
			}
		} else {
			t.idleSince = time.Time{}
		}
	}

	for b := range a.timers {
		if !seen[b] {
			delete(a.timers, b)
		}
	}
}

func (a *Autoscaler) emit(sig Signal) {
	select {
	case a.out <- sig:
	default:
		a.logger.Warn("autoscaler signal dropped, consumer too slow", "kind", sig.Kind, "band", sig.Band.String())
	}
}
