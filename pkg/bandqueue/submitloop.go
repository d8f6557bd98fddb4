package bandqueue

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/metrics"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/resourcemgr"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/subtask"
)

// DispatchFunc is invoked for every subtask a SubmitLoop pops off a
// BandQueue after a slot was reserved for it.
type DispatchFunc func(b band.Band, st *subtask.Subtask)

// SubmitLoop drives every BandQueue in a session: on a timer
// (submit_period, tunable) plus event-driven kicks, it scans bands in
// a shuffled order each tick to avoid starving tail bands, draining
// each queue against the GlobalResourceManager.
type SubmitLoop struct {
	rm       *resourcemgr.Manager
	period   time.Duration
	dispatch DispatchFunc
	logger   *slog.Logger
	reg      *metrics.Registry

	mu     sync.Mutex
	queues map[band.Band]*BandQueue

	kick chan struct{}
}

// NewSubmitLoop constructs a SubmitLoop. period is submit_period from
// configuration; reg may be nil in tests.
func NewSubmitLoop(rm *resourcemgr.Manager, period time.Duration, dispatch DispatchFunc, reg *metrics.Registry, logger *slog.Logger) *SubmitLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmitLoop{
		rm:       rm,
		period:   period,
		dispatch: dispatch,
		logger:   logger.With("component", "submitloop"),
		reg:      reg,
		queues:   make(map[band.Band]*BandQueue),
		kick:     make(chan struct{}, 1),
	}
}

// Queue returns the BandQueue for b, creating it (and wiring its
// kicker) on first use.
func (sl *SubmitLoop) Queue(b band.Band) *BandQueue {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	q, ok := sl.queues[b]
	if ok {
		return q
	}
	q = New(b, sl.reg)
	q.SetKicker(sl.Kick)
	sl.queues[b] = q
	return q
}

// RemoveQueue drops bookkeeping for a retired band.
func (sl *SubmitLoop) RemoveQueue(b band.Band) {
	sl.mu.Lock()
	delete(sl.queues, b)
	sl.mu.Unlock()
}

// Bands returns every band currently tracked by this SubmitLoop.
func (sl *SubmitLoop) Bands() []band.Band {
	return sl.bandsSnapshot()
}

// SetDispatch installs (or replaces) the DispatchFunc invoked for every
// subtask popped off a queue. Exists so a SubmitLoop can be
// constructed before its consumer (which needs the loop to build its
// own BandQueues) is ready to supply a dispatch callback.
func (sl *SubmitLoop) SetDispatch(fn DispatchFunc) {
	sl.mu.Lock()
	sl.dispatch = fn
	sl.mu.Unlock()
}

// Kick wakes the loop outside its regular tick. BandQueue calls it on
// push-to-empty; a slot release does not kick the loop, so work waiting
// on a released slot is picked up at the next tick.
func (sl *SubmitLoop) Kick() {
	select {
	case sl.kick <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled.
func (sl *SubmitLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(sl.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sl.scanOnce()
		case <-sl.kick:
			sl.scanOnce()
		}
	}
}

func (sl *SubmitLoop) scanOnce() {
	bands := sl.bandsSnapshot()
	rand.Shuffle(len(bands), func(i, j int) { bands[i], bands[j] = bands[j], bands[i] })

	for _, b := range bands {
		q := sl.Queue(b)
		for {
			st := q.PopIfAcquirable(sl.rm)
			if st == nil {
				break
			}
			sl.logger.Debug("dispatching subtask", "band", b.String(), "subtask_id", st.SubtaskID)
			sl.dispatch(b, st)
		}
	}
}

func (sl *SubmitLoop) bandsSnapshot() []band.Band {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	out := make([]band.Band, 0, len(sl.queues))
	for b := range sl.queues {
		out = append(out, b)
	}
	return out
}
