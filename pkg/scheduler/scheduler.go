// Package scheduler wires ClusterView, Assigner, GlobalResourceManager,
// BandQueue/SubmitLoop, SubtaskManager and the Autoscaler hook together
// behind the Scheduler API exposed to callers.
package scheduler

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/khryptorgraphics/subtaskscheduler/internal/config"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/assigner"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/autoscaler"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/bandqueue"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/chunk"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/clusterview"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/metrics"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/resourcemgr"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/subtask"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/submanager"
)

// Scheduler is the per-session scheduling core: the Scheduler API named
// in the external interfaces section, backed by the components this
// module implements.
type Scheduler struct {
	cfg    *config.Config
	logger *slog.Logger

	view       *clusterview.ClusterView
	assigner   *assigner.Assigner
	resources  *resourcemgr.Manager
	submitLoop *bandqueue.SubmitLoop
	manager    *submanager.Manager
	autoscaler *autoscaler.Autoscaler
	metrics    *metrics.Registry
}

// New builds a Scheduler for one session. clusterAPI/metaClient/worker
// are the consumed external collaborators; reg may be nil to disable
// Prometheus instrumentation (e.g. in unit tests).
func New(cfg *config.Config, clusterAPI clusterview.API, metaClient chunk.Client, worker submanager.WorkerAPI, role string, statuses []band.Status, reg *metrics.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	view := clusterview.New(clusterAPI, role, statuses, clusterview.WithLogger(logger))
	a := assigner.New(metaClient, logger)
	rm := resourcemgr.New(reg)
	loop := bandqueue.NewSubmitLoop(rm, cfg.SubmitPeriod, nil, reg, logger)
	mgr := submanager.New(cfg, a, loop, rm, worker, reg, logger)
	loop.SetDispatch(mgr.DispatchFunc())

	as := autoscaler.New(cfg, schedulerQueueState{loop: loop, mgr: mgr}, cfg.SubmitPeriod, logger)

	return &Scheduler{
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
		view:       view,
		assigner:   a,
		resources:  rm,
		submitLoop: loop,
		manager:    mgr,
		autoscaler: as,
		metrics:    reg,
	}
}

// Run drives every background actor (ClusterView watch loop, SubmitLoop,
// Autoscaler poll) until ctx is cancelled, reconciling ClusterView
// changes into the Assigner's band indexes, GlobalResourceManager
// capacities, and SubtaskManager band-loss handling.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.view.Run(ctx) })
	g.Go(func() error { return s.submitLoop.Run(ctx) })
	g.Go(func() error { return s.autoscaler.Run(ctx) })
	g.Go(func() error { return s.reconcileLoop(ctx) })
	if s.cfg.Speculation.Enabled {
		g.Go(func() error { return s.manager.SpeculationLoop(ctx) })
	}

	return g.Wait()
}

// reconcileLoop subscribes to ClusterView changes and applies them to
// the Assigner's indexes, the resource manager's capacities, and the
// SubtaskManager's band-loss handling, rebalancing the queued backlog
// whenever the ready set changes.
func (s *Scheduler) reconcileLoop(ctx context.Context) error {
	ch := s.view.Subscribe(ctx)
	var prevReady map[band.Band]band.Resource

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			ready := snap.Ready()
			s.assigner.UpdateBands(ready)

			for b, r := range ready {
				s.resources.SetCapacity(b, slotsFor(r))
			}
			for b := range prevReady {
				if _, stillReady := ready[b]; !stillReady {
					s.manager.HandleBandTransition(b)
				}
			}
			if prevReady != nil && !sameBandSet(prevReady, ready) {
				s.rebalance()
			}
			prevReady = ready
		}
	}
}

// slotsFor derives a band's slot capacity from its resource record. One
// subtask occupies one CPU or one GPU: a record advertising GPUs is
// sized by GPU count, otherwise by CPU count, and a record advertising
// neither gets one slot.
func slotsFor(r band.Resource) int {
	if r.NumGPUs > 0 {
		return r.NumGPUs
	}
	if r.NumCPUs > 0 {
		return r.NumCPUs
	}
	return 1
}

// Submit accepts a batch of subtasks for scheduling.
func (s *Scheduler) Submit(ctx context.Context, subtasks []*subtask.Subtask) {
	s.manager.Submit(ctx, subtasks)
}

// Cancel best-effort cancels the given subtasks.
func (s *Scheduler) Cancel(ctx context.Context, subtaskIDs []string) {
	s.manager.Cancel(ctx, subtaskIDs)
}

// Wait blocks for a subtask's terminal report.
func (s *Scheduler) Wait(ctx context.Context, subtaskID string) (subtask.Report, error) {
	return s.manager.Wait(ctx, subtaskID)
}

// AssignSubtasks exposes the Assigner's placement algorithm directly,
// reused by tile producers for pre-assignment preview.
func (s *Scheduler) AssignSubtasks(ctx context.Context, subtasks []*subtask.Subtask, excludeBands []band.Band, randomWhenUnavailable bool) []assigner.Result {
	return s.assigner.AssignSubtasks(ctx, subtasks, excludeBands, randomWhenUnavailable)
}

// ReassignSubtasks exposes administrative queue rebalancing: the
// Assigner computes the delta map, the SubtaskManager migrates queued
// entries accordingly, and the deltas are returned to the caller.
func (s *Scheduler) ReassignSubtasks(counts map[band.Band]int) map[band.Band]int {
	deltas := s.assigner.ReassignSubtasks(counts)
	s.manager.ApplyRebalance(deltas)
	return deltas
}

// Forget garbage-collects terminal subtasks whose reports the caller
// has already observed via Wait.
func (s *Scheduler) Forget(subtaskIDs []string) {
	s.manager.Forget(subtaskIDs)
}

// rebalance redistributes the current queued backlog after a cluster
// membership change.
func (s *Scheduler) rebalance() {
	counts := make(map[band.Band]int)
	for _, b := range s.submitLoop.Bands() {
		counts[b] = s.submitLoop.Queue(b).Len()
	}
	if len(counts) == 0 {
		return
	}
	deltas := s.assigner.ReassignSubtasks(counts)
	s.manager.ApplyRebalance(deltas)
}

func sameBandSet(a map[band.Band]band.Resource, b map[band.Band]band.Resource) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// schedulerQueueState adapts the SubmitLoop and SubtaskManager to the
// autoscaler.QueueState interface.
type schedulerQueueState struct {
	loop *bandqueue.SubmitLoop
	mgr  *submanager.Manager
}

func (s schedulerQueueState) QueueDepth(b band.Band) int   { return s.loop.Queue(b).Len() }
func (s schedulerQueueState) RunningCount(b band.Band) int { return s.mgr.RunningCount(b) }
func (s schedulerQueueState) Bands() []band.Band           { return s.loop.Bands() }
