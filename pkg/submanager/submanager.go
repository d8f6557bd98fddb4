// Package submanager implements the SubtaskManager: the lifecycle
// state machine for subtasks, including retry-on-band-failure,
// cancellation, and speculative reruns.
package submanager

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/khryptorgraphics/subtaskscheduler/internal/config"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/assigner"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/bandqueue"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/chunk"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/metrics"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/resourcemgr"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/schederrors"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/subtask"
)

// WorkerAPI is the consumed interface to the worker-side execution
// runtime.
type WorkerAPI interface {
	// RunSubtask dispatches st to band b. ctx bounds the dispatch
	// round-trip only, not the subtask's execution. The returned
	// channel may deliver a RUNNING progress report followed by one
	// terminal report; a channel closed without a terminal report
	// means the band was lost mid-run.
	RunSubtask(ctx context.Context, st *subtask.Subtask, b band.Band) (<-chan subtask.Report, error)
	// CancelSubtask requests best-effort cancellation of a dispatched
	// subtask.
	CancelSubtask(ctx context.Context, subtaskID string) error
}

type entryState struct {
	task            *subtask.Subtask
	state           subtask.State
	band            band.Band
	excludeBands    map[band.Band]bool
	rescheduleCount int
	cancelled       bool
	report          *subtask.Report
	waiters         []chan subtask.Report

	startedAt time.Time

	// Speculation bookkeeping: specBand is the band a duplicate was
	// issued on, specInFlight whether that duplicate has been popped
	// off its queue (and thus holds a slot).
	specBand     *band.Band
	specInFlight bool
}

// Manager implements the SubtaskManager lifecycle FSM described in the
// component design: submit, cancel, on_worker_report, speculation and
// band-loss handling.
type Manager struct {
	cfg      *config.Config
	assigner *assigner.Assigner
	loop     *bandqueue.SubmitLoop
	rm       *resourcemgr.Manager
	worker   WorkerAPI
	logger   *slog.Logger
	reg      *metrics.Registry

	mu      sync.Mutex
	entries map[string]*entryState
	nextSeq uint64

	// runtimes records completed-subtask durations per graph layer,
	// the peer population speculation medians are computed over.
	runtimes map[int][]time.Duration
}

// New constructs a SubtaskManager. reg may be nil in tests.
func New(cfg *config.Config, a *assigner.Assigner, loop *bandqueue.SubmitLoop, rm *resourcemgr.Manager, worker WorkerAPI, reg *metrics.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		assigner: a,
		loop:     loop,
		rm:       rm,
		worker:   worker,
		logger:   logger.With("component", "submanager"),
		reg:      reg,
		entries:  make(map[string]*entryState),
		runtimes: make(map[int][]time.Duration),
	}
	return m
}

// Submit assigns bands for subtasks (in input order) and enqueues the
// successfully assigned ones. Subtasks that fail assignment go
// straight to FAILED and are reported to any future Wait caller.
func (m *Manager) Submit(ctx context.Context, subtasks []*subtask.Subtask) {
	if len(subtasks) == 0 {
		return
	}

	m.mu.Lock()
	for _, st := range subtasks {
		st.SubmitSequence = m.nextSeq
		m.nextSeq++
		m.entries[st.SubtaskID] = &entryState{
			task:         st,
			state:        subtask.Pending,
			excludeBands: make(map[band.Band]bool),
		}
	}
	m.mu.Unlock()

	results := m.assigner.AssignSubtasks(ctx, subtasks, nil, true)

	for i, st := range subtasks {
		if m.reg != nil {
			m.reg.SubtasksSubmitted.Inc()
		}
		res := results[i]
		if res.Err != nil {
			m.failTerminal(st.SubtaskID, causeForError(res.Err), res.Err)
			continue
		}
		m.assignAndEnqueue(st.SubtaskID, res.Band)
	}
}

func (m *Manager) assignAndEnqueue(subtaskID string, b band.Band) {
	m.mu.Lock()
	e, ok := m.entries[subtaskID]
	if !ok || e.cancelled {
		m.mu.Unlock()
		return
	}
	e.band = b
	e.state = subtask.Assigned
	e.state = subtask.Queued
	task := e.task
	m.mu.Unlock()

	m.loop.Queue(b).Push(task)
}

// dispatch is the bandqueue.DispatchFunc wired into the SubmitLoop: it
// advances QUEUED -> SUBMITTED and issues the worker RPC. A pop that
// turns out to be a speculative duplicate (the entry is already
// RUNNING on another band) is dispatched without touching the primary
// attempt's state.
func (m *Manager) dispatch(b band.Band, st *subtask.Subtask) {
	m.mu.Lock()
	e, ok := m.entries[st.SubtaskID]
	if !ok || e.cancelled || e.state.Terminal() {
		m.mu.Unlock()
		if m.rm != nil {
			m.rm.Release(b, 1)
		}
		return
	}
	isSpec := e.specBand != nil && *e.specBand == b &&
		(e.state == subtask.Submitted || e.state == subtask.Running)
	if isSpec {
		e.specInFlight = true
	} else {
		e.state = subtask.Submitted
		e.startedAt = time.Now()
	}
	m.mu.Unlock()

	// The RPC timeout bounds the dispatch round-trip only; execution
	// time is unbounded here, band loss mid-run is detected through
	// ClusterView transitions or the report channel closing.
	rpcCtx, cancel := context.WithTimeout(context.Background(), 2*m.cfg.SubmitPeriod)
	reportCh, err := m.worker.RunSubtask(rpcCtx, st, b)
	if err != nil {
		cancel()
		m.handleBandLost(st.SubtaskID, b)
		return
	}

	go func() {
		defer cancel()
		for rep := range reportCh {
			if rep.Band == (band.Band{}) {
				rep.Band = b
			}
			m.onWorkerReportInternal(st.SubtaskID, rep)
			if rep.State.Terminal() {
				return
			}
		}
		// closed without a terminal report
		m.handleBandLost(st.SubtaskID, b)
	}()
}

// DispatchFunc exposes dispatch as a bandqueue.DispatchFunc for wiring
// into bandqueue.NewSubmitLoop.
func (m *Manager) DispatchFunc() bandqueue.DispatchFunc { return m.dispatch }

// OnWorkerReport feeds an externally observed worker report into the
// FSM. Out-of-order reports for a subtask_id that no longer has a
// transition valid from its current state are dropped with a debug
// log, per the ordering guarantee.
func (m *Manager) OnWorkerReport(subtaskID string, rep subtask.Report) {
	m.onWorkerReportInternal(subtaskID, rep)
}

func (m *Manager) onWorkerReportInternal(subtaskID string, rep subtask.Report) {
	m.mu.Lock()
	e, ok := m.entries[subtaskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if e.cancelled || e.state.Terminal() {
		m.mu.Unlock()
		m.logger.Debug("dropping report for already-terminal or cancelled subtask", "subtask_id", subtaskID, "reported_state", rep.State)
		return
	}

	valid := e.state == subtask.Submitted || e.state == subtask.Running
	if !valid {
		m.mu.Unlock()
		m.logger.Debug("dropping out-of-order worker report", "subtask_id", subtaskID, "current_state", e.state, "reported_state", rep.State)
		return
	}

	repBand := rep.Band
	if repBand == (band.Band{}) {
		repBand = e.band
	}
	fromSpec := e.specBand != nil && repBand == *e.specBand && repBand != e.band

	switch rep.State {
	case subtask.Running:
		if fromSpec {
			m.mu.Unlock()
			return
		}
		e.state = subtask.Running
		e.startedAt = time.Now()
		m.mu.Unlock()
		return

	case subtask.Succeeded:
		e.state = subtask.Succeeded
		rep.Band = repBand
		e.report = &rep
		waiters := e.waiters
		e.waiters = nil
		if !e.startedAt.IsZero() {
			layer := e.task.Priority.Layer
			m.runtimes[layer] = append(m.runtimes[layer], time.Since(e.startedAt))
		}

		var loser *band.Band
		loserQueued, loserInFlight := false, false
		if e.specBand != nil {
			if fromSpec {
				lb := e.band
				loser, loserInFlight = &lb, true
			} else {
				loser = e.specBand
				loserInFlight = e.specInFlight
				loserQueued = !e.specInFlight
			}
		}
		m.mu.Unlock()

		if m.rm != nil {
			m.rm.Release(repBand, 1)
		}
		if loser != nil {
			if loserQueued {
				m.loop.Queue(*loser).Remove(subtaskID)
			}
			if loserInFlight {
				if m.rm != nil {
					m.rm.Release(*loser, 1)
				}
				cctx, ccancel := context.WithTimeout(context.Background(), m.cfg.SubtaskCancelTimeout)
				if err := m.worker.CancelSubtask(cctx, subtaskID); err != nil {
					m.logger.Debug("cancelling losing speculative attempt failed", "subtask_id", subtaskID, "error", err)
				}
				ccancel()
			}
		}
		if m.reg != nil {
			m.reg.SubtasksSucceeded.Inc()
		}
		notify(waiters, rep)
		return

	case subtask.Failed:
		if e.specBand != nil {
			// One of two concurrent attempts failed; keep the
			// survivor and drop the failed attempt's slot.
			m.dropAttemptLocked(e, subtaskID, repBand, fromSpec)
			return
		}
		m.mu.Unlock()
		if m.rm != nil {
			m.rm.Release(repBand, 1)
		}
		if rep.Cause == subtask.CauseWorkerPermanent {
			m.failTerminal(subtaskID, subtask.CauseWorkerPermanent, rep.Err)
			return
		}
		m.rescheduleOrFail(subtaskID, subtask.CauseWorkerTransient, rep.Err)
		return

	default:
		m.mu.Unlock()
	}
}

// dropAttemptLocked resolves the failure of one attempt of a
// speculated subtask, keeping the other attempt alive. Called with
// m.mu held; releases it.
func (m *Manager) dropAttemptLocked(e *entryState, subtaskID string, failed band.Band, fromSpec bool) {
	if fromSpec {
		inFlight := e.specInFlight
		spec := *e.specBand
		e.specBand = nil
		e.specInFlight = false
		m.mu.Unlock()
		if inFlight {
			if m.rm != nil {
				m.rm.Release(spec, 1)
			}
		} else {
			m.loop.Queue(spec).Remove(subtaskID)
		}
		return
	}

	// Primary failed: promote the speculative attempt.
	e.excludeBands[failed] = true
	e.band = *e.specBand
	inFlight := e.specInFlight
	e.specBand = nil
	e.specInFlight = false
	if !inFlight {
		e.state = subtask.Queued
	}
	m.mu.Unlock()
	if m.rm != nil {
		m.rm.Release(failed, 1)
	}
}

// handleBandLost is invoked on RPC failure/band disappearance for a
// SUBMITTED/RUNNING subtask: release the slot, exclude the band, and
// retry if budget remains. For a speculated subtask losing only one of
// its two bands, the surviving attempt carries on.
func (m *Manager) handleBandLost(subtaskID string, lostBand band.Band) {
	m.mu.Lock()
	e, ok := m.entries[subtaskID]
	if !ok || e.state.Terminal() || e.cancelled {
		m.mu.Unlock()
		return
	}
	if e.specBand != nil {
		m.dropAttemptLocked(e, subtaskID, lostBand, *e.specBand == lostBand && lostBand != e.band)
		return
	}
	e.excludeBands[lostBand] = true
	m.mu.Unlock()

	if m.rm != nil {
		m.rm.Release(lostBand, 1)
	}
	m.rescheduleOrFail(subtaskID, subtask.CauseBandLost, schederrors.ErrBandLost)
}

// rescheduleOrFail increments the reschedule count and either returns
// the subtask to PENDING (and re-assigns it with the exclusions
// accumulated so far) or fails it terminally once the reschedule
// budget is exhausted.
func (m *Manager) rescheduleOrFail(subtaskID string, cause subtask.Cause, err error) {
	m.mu.Lock()
	e, ok := m.entries[subtaskID]
	if !ok || e.state.Terminal() || e.cancelled {
		m.mu.Unlock()
		return
	}
	if !e.task.Retryable {
		m.mu.Unlock()
		m.failTerminal(subtaskID, cause, err)
		return
	}
	e.rescheduleCount++
	if e.rescheduleCount > m.cfg.SubtaskMaxReschedules {
		m.mu.Unlock()
		m.failTerminal(subtaskID, subtask.CauseRescheduleExhausted, schederrors.ErrNoAvailableBand)
		return
	}
	e.state = subtask.Pending
	task := e.task
	exclude := excludeList(e.excludeBands)
	m.mu.Unlock()

	if m.reg != nil {
		m.reg.SubtasksRescheduled.WithLabelValues(cause.String()).Inc()
	}

	results := m.assigner.AssignSubtasks(context.Background(), []*subtask.Subtask{task}, exclude, true)
	res := results[0]
	if res.Err != nil {
		m.failTerminal(subtaskID, causeForError(res.Err), res.Err)
		return
	}
	m.assignAndEnqueue(subtaskID, res.Band)
}

// requeueFromLostBand re-feeds a QUEUED subtask whose band left the
// ready set back through the Assigner with that band excluded. Unlike
// a RUNNING/SUBMITTED band-loss, this consumes no reschedule budget:
// the subtask never started.
func (m *Manager) requeueFromLostBand(subtaskID string, lost band.Band) {
	m.mu.Lock()
	e, ok := m.entries[subtaskID]
	if !ok || e.state.Terminal() || e.cancelled {
		m.mu.Unlock()
		return
	}
	e.excludeBands[lost] = true
	e.state = subtask.Pending
	task := e.task
	exclude := excludeList(e.excludeBands)
	m.mu.Unlock()

	if m.reg != nil {
		m.reg.SubtasksRescheduled.WithLabelValues(subtask.CauseBandLost.String()).Inc()
	}

	results := m.assigner.AssignSubtasks(context.Background(), []*subtask.Subtask{task}, exclude, true)
	res := results[0]
	if res.Err != nil {
		m.failTerminal(subtaskID, causeForError(res.Err), res.Err)
		return
	}
	m.assignAndEnqueue(subtaskID, res.Band)
}

// SpeculationLoop periodically scans RUNNING subtasks for stragglers
// and issues duplicates on other bands. Blocks until ctx is done when
// speculation is disabled.
func (m *Manager) SpeculationLoop(ctx context.Context) error {
	if !m.cfg.Speculation.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(m.cfg.SubmitPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.checkSpeculation(time.Now())
		}
	}
}

func (m *Manager) checkSpeculation(now time.Time) {
	type straggler struct {
		id      string
		task    *subtask.Subtask
		exclude []band.Band
	}
	var stragglers []straggler

	m.mu.Lock()
	for id, e := range m.entries {
		if e.state != subtask.Running || e.cancelled || e.specBand != nil || !e.task.Retryable || e.startedAt.IsZero() {
			continue
		}
		med, ok := m.medianRuntimeLocked(e.task.Priority.Layer)
		if !ok {
			continue
		}
		threshold := time.Duration(float64(med) * m.cfg.Speculation.Multiplier)
		if now.Sub(e.startedAt) <= threshold {
			continue
		}
		exclude := excludeList(e.excludeBands)
		exclude = append(exclude, e.band)
		stragglers = append(stragglers, straggler{id: id, task: e.task, exclude: exclude})
	}
	m.mu.Unlock()

	for _, s := range stragglers {
		results := m.assigner.AssignSubtasks(context.Background(), []*subtask.Subtask{s.task}, s.exclude, false)
		if results[0].Err != nil {
			m.logger.Debug("no band available for speculative duplicate", "subtask_id", s.id, "error", results[0].Err)
			continue
		}
		chosen := results[0].Band

		m.mu.Lock()
		e, ok := m.entries[s.id]
		if !ok || e.cancelled || e.state != subtask.Running || e.specBand != nil {
			m.mu.Unlock()
			continue
		}
		e.specBand = &chosen
		e.specInFlight = false
		m.mu.Unlock()

		if m.reg != nil {
			m.reg.SubtasksSpeculated.Inc()
		}
		m.logger.Info("issuing speculative duplicate", "subtask_id", s.id, "band", chosen.String())
		m.loop.Queue(chosen).Push(s.task)
	}
}

// medianRuntimeLocked computes the median completed runtime for peers
// at the given graph layer. Called with m.mu held.
func (m *Manager) medianRuntimeLocked(layer int) (time.Duration, bool) {
	samples := m.runtimes[layer]
	if len(samples) == 0 {
		return 0, false
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2], true
}

// RunningCount reports how many subtasks this Manager currently has
// SUBMITTED or RUNNING on band b, the denominator the Autoscaler's
// worker_idle signal needs.
func (m *Manager) RunningCount(b band.Band) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.band == b && (e.state == subtask.Submitted || e.state == subtask.Running) {
			n++
		}
	}
	return n
}

// Cancel best-effort cancels the given subtasks. Idempotent: cancelling
// an already-cancelled or terminal subtask is a no-op.
func (m *Manager) Cancel(ctx context.Context, subtaskIDs []string) {
	for _, id := range subtaskIDs {
		m.cancelOne(ctx, id)
	}
}

func (m *Manager) cancelOne(ctx context.Context, subtaskID string) {
	m.mu.Lock()
	e, ok := m.entries[subtaskID]
	if !ok || e.cancelled || e.state.Terminal() {
		m.mu.Unlock()
		return
	}
	e.cancelled = true
	prevState := e.state
	b := e.band
	specBand := e.specBand
	specInFlight := e.specInFlight
	waiters := e.waiters
	e.waiters = nil
	e.state = subtask.Cancelled
	e.report = &subtask.Report{SubtaskID: subtaskID, State: subtask.Cancelled, Cause: subtask.CauseCancelled}
	m.mu.Unlock()

	if prevState == subtask.Queued {
		m.loop.Queue(b).Remove(subtaskID)
	}
	if prevState == subtask.Submitted || prevState == subtask.Running {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.SubtaskCancelTimeout)
		defer cancel()
		if err := m.worker.CancelSubtask(cctx, subtaskID); err != nil {
			m.logger.Debug("worker cancel failed, forcing CANCELLED locally", "subtask_id", subtaskID, "error", err)
		}
		if m.rm != nil {
			m.rm.Release(b, 1)
		}
	}
	if specBand != nil {
		if specInFlight {
			if m.rm != nil {
				m.rm.Release(*specBand, 1)
			}
		} else {
			m.loop.Queue(*specBand).Remove(subtaskID)
		}
	}

	notify(waiters, subtask.Report{SubtaskID: subtaskID, State: subtask.Cancelled, Cause: subtask.CauseCancelled})
}

// Wait blocks until subtaskID reaches a terminal state, or ctx is
// cancelled.
func (m *Manager) Wait(ctx context.Context, subtaskID string) (subtask.Report, error) {
	m.mu.Lock()
	e, ok := m.entries[subtaskID]
	if !ok {
		m.mu.Unlock()
		return subtask.Report{}, errors.New("submanager: unknown subtask_id")
	}
	if e.report != nil {
		rep := *e.report
		m.mu.Unlock()
		return rep, nil
	}
	if e.state.Terminal() {
		rep := subtask.Report{SubtaskID: subtaskID, State: e.state}
		m.mu.Unlock()
		return rep, nil
	}
	ch := make(chan subtask.Report, 1)
	e.waiters = append(e.waiters, ch)
	m.mu.Unlock()

	select {
	case rep := <-ch:
		return rep, nil
	case <-ctx.Done():
		return subtask.Report{}, ctx.Err()
	}
}

// Forget garbage-collects terminal subtasks whose reports the caller
// has observed. Non-terminal subtasks are left untouched.
func (m *Manager) Forget(subtaskIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range subtaskIDs {
		if e, ok := m.entries[id]; ok && e.state.Terminal() {
			delete(m.entries, id)
		}
	}
}

// HandleBandTransition implements band-loss handling: every subtask
// owned by b is enumerated; RUNNING/SUBMITTED become a band-lost
// event, QUEUED is pulled from the BandQueue and re-fed to the
// Assigner with b excluded.
func (m *Manager) HandleBandTransition(b band.Band) {
	m.mu.Lock()
	var affected []*entryState
	for _, e := range m.entries {
		owns := e.band == b || (e.specBand != nil && *e.specBand == b)
		if owns && !e.state.Terminal() && !e.cancelled {
			affected = append(affected, e)
		}
	}
	m.mu.Unlock()

	for _, e := range affected {
		switch e.state {
		case subtask.Submitted, subtask.Running:
			m.handleBandLost(e.task.SubtaskID, b)
		case subtask.Queued:
			m.loop.Queue(b).Remove(e.task.SubtaskID)
			m.requeueFromLostBand(e.task.SubtaskID, b)
		}
	}
}

// ApplyRebalance migrates queued subtasks between BandQueues according
// to a delta map from assigner.ReassignSubtasks: negative bands shed
// their lowest-priority entries, positive bands receive them. Entries
// that cannot be placed (all receiving bands full per the deltas) are
// pushed back where they came from.
func (m *Manager) ApplyRebalance(deltas map[band.Band]int) {
	var donors, receivers []band.Band
	for b, d := range deltas {
		switch {
		case d < 0:
			donors = append(donors, b)
		case d > 0:
			receivers = append(receivers, b)
		}
	}
	if len(donors) == 0 || len(receivers) == 0 {
		return
	}
	band.Sort(donors)
	band.Sort(receivers)

	type moved struct {
		task *subtask.Subtask
		from band.Band
	}
	var pool []moved
	for _, b := range donors {
		for _, task := range m.loop.Queue(b).DrainN(-deltas[b]) {
			pool = append(pool, moved{task: task, from: b})
		}
	}

	i := 0
	for _, r := range receivers {
		want := deltas[r]
		for want > 0 && i < len(pool) {
			mv := pool[i]
			i++
			want--
			m.mu.Lock()
			if e, ok := m.entries[mv.task.SubtaskID]; ok && !e.cancelled && e.state == subtask.Queued {
				e.band = r
			}
			m.mu.Unlock()
			m.loop.Queue(r).Push(mv.task)
		}
	}
	for ; i < len(pool); i++ {
		m.loop.Queue(pool[i].from).Push(pool[i].task)
	}
}

func (m *Manager) failTerminal(subtaskID string, cause subtask.Cause, err error) {
	m.mu.Lock()
	e, ok := m.entries[subtaskID]
	if !ok || e.state.Terminal() {
		m.mu.Unlock()
		return
	}
	e.state = subtask.Failed
	rep := subtask.Report{SubtaskID: subtaskID, State: subtask.Failed, Band: e.band, Cause: cause, Err: err}
	e.report = &rep
	waiters := e.waiters
	e.waiters = nil
	m.mu.Unlock()

	if m.reg != nil {
		m.reg.SubtasksFailed.WithLabelValues(cause.String()).Inc()
	}
	notify(waiters, rep)
}

func excludeList(set map[band.Band]bool) []band.Band {
	out := make([]band.Band, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	return out
}

func notify(waiters []chan subtask.Report, rep subtask.Report) {
	for _, ch := range waiters {
		ch <- rep
	}
}

func causeForError(err error) subtask.Cause {
	var nms *schederrors.NoMatchingSlotsError
	var missing *chunk.MissingKeysError
	switch {
	case errors.As(err, &nms):
		return subtask.CauseNoMatchingSlots
	case errors.As(err, &missing), errors.Is(err, chunk.ErrMetaMissing):
		return subtask.CauseChunkMetaMissing
	case errors.Is(err, schederrors.ErrNoAvailableBand):
		return subtask.CauseNoAvailableBand
	case errors.Is(err, schederrors.ErrBandLost):
		return subtask.CauseBandLost
	default:
		return subtask.CauseNoAvailableBand
	}
}
