package submanager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/subtaskscheduler/internal/config"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/assigner"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/bandqueue"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/graph"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/resourcemgr"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/subtask"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/submanager"
)

type fakeWorker struct {
	mu      sync.Mutex
	reports map[string]chan subtask.Report
	runs    map[string][]band.Band
	cancels map[string]bool
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		reports: make(map[string]chan subtask.Report),
		runs:    make(map[string][]band.Band),
		cancels: make(map[string]bool),
	}
}

func (f *fakeWorker) RunSubtask(ctx context.Context, st *subtask.Subtask, b band.Band) (<-chan subtask.Report, error) {
	ch := make(chan subtask.Report, 1)
	f.mu.Lock()
	f.reports[st.SubtaskID] = ch
	f.runs[st.SubtaskID] = append(f.runs[st.SubtaskID], b)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeWorker) runBands(id string) []band.Band {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]band.Band, len(f.runs[id]))
	copy(out, f.runs[id])
	return out
}

func (f *fakeWorker) CancelSubtask(ctx context.Context, subtaskID string) error {
	f.mu.Lock()
	f.cancels[subtaskID] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeWorker) succeed(id string, b band.Band) {
	f.mu.Lock()
	ch := f.reports[id]
	f.mu.Unlock()
	ch <- subtask.Report{SubtaskID: id, State: subtask.Succeeded, Band: b}
}

func setup(t *testing.T) (*submanager.Manager, *bandqueue.SubmitLoop, *resourcemgr.Manager, *assigner.Assigner, *fakeWorker, band.Band) {
	t.Helper()
	b := band.Band{Address: "A", Name: "numa-0"}
	a := assigner.New(nil, nil)
	a.UpdateBands(map[band.Band]band.Resource{b: {NumCPUs: 2}})

	rm := resourcemgr.New(nil)
	rm.SetCapacity(b, 2)

	cfg := config.DefaultConfig()
	cfg.SubmitPeriod = 20 * time.Millisecond
	worker := newFakeWorker()

	loop := bandqueue.NewSubmitLoop(rm, cfg.SubmitPeriod, nil, nil, nil)
	mgr := submanager.New(cfg, a, loop, rm, worker, nil, nil)
	loop.SetDispatch(mgr.DispatchFunc())

	return mgr, loop, rm, a, worker, b
}

func TestSubmitAndSucceed(t *testing.T) {
	mgr, loop, _, _, worker, b := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	st := &subtask.Subtask{SubtaskID: "t1", Retryable: true, Graph: graph.Graph{}}
	mgr.Submit(context.Background(), []*subtask.Subtask{st})

	require.Eventually(t, func() bool {
		worker.mu.Lock()
		_, ok := worker.reports["t1"]
		worker.mu.Unlock()
		return ok
	}, time.Second, 5*time.Millisecond)

	worker.succeed("t1", b)

	rep, err := mgr.Wait(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, subtask.Succeeded, rep.State)
}

func TestIdempotentCancel(t *testing.T) {
	mgr, loop, _, _, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	st := &subtask.Subtask{SubtaskID: "c1", Retryable: true, Graph: graph.Graph{}}
	mgr.Submit(context.Background(), []*subtask.Subtask{st})

	mgr.Cancel(context.Background(), []string{"c1"})
	rep1, err := mgr.Wait(context.Background(), "c1")
	require.NoError(t, err)

	mgr.Cancel(context.Background(), []string{"c1"})
	rep2, err := mgr.Wait(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, rep1.State, rep2.State)
	assert.Equal(t, subtask.Cancelled, rep1.State)
}

func TestBandLossReassignsWithExclusion(t *testing.T) {
	bLost := band.Band{Address: "A", Name: "numa-0"}
	bReplacement := band.Band{Address: "B", Name: "numa-0"}

	a := assigner.New(nil, nil)
	a.UpdateBands(map[band.Band]band.Resource{
		bLost:        {NumCPUs: 1},
		bReplacement: {NumCPUs: 1},
	})

	rm := resourcemgr.New(nil)
	rm.SetCapacity(bLost, 1)
	rm.SetCapacity(bReplacement, 1)

	cfg := config.DefaultConfig()
	cfg.SubmitPeriod = 20 * time.Millisecond
	worker := newFakeWorker()

	loop := bandqueue.NewSubmitLoop(rm, cfg.SubmitPeriod, nil, nil, nil)
	mgr := submanager.New(cfg, a, loop, rm, worker, nil, nil)
	loop.SetDispatch(mgr.DispatchFunc())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	st := &subtask.Subtask{SubtaskID: "run-1", Retryable: true, Graph: graph.Graph{}, ExpectBands: []band.Band{bLost}, BandsSpecified: false}
	mgr.Submit(context.Background(), []*subtask.Subtask{st})

	require.Eventually(t, func() bool {
		worker.mu.Lock()
		_, ok := worker.reports["run-1"]
		worker.mu.Unlock()
		return ok
	}, time.Second, 5*time.Millisecond)

	// ClusterView has just reported bLost as STOPPED.
	a.UpdateBands(map[band.Band]band.Resource{bReplacement: {NumCPUs: 1}})
	mgr.HandleBandTransition(bLost)

	// Wait for the re-dispatch, which must avoid the lost band.
	require.Eventually(t, func() bool {
		bands := worker.runBands("run-1")
		return len(bands) == 2 && bands[1] == bReplacement
	}, time.Second, 5*time.Millisecond)

	worker.succeed("run-1", bReplacement)
	rep, err := mgr.Wait(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, subtask.Succeeded, rep.State)
	assert.Equal(t, bReplacement, rep.Band)
}

func TestOutOfOrderReportDropped(t *testing.T) {
	mgr, _, rm, _, _, b := setup(t)
	// no SubmitLoop running and no free slots: the subtask stays QUEUED
	rm.CapacityChanged(b, 0)

	st := &subtask.Subtask{SubtaskID: "q1", Retryable: true, Graph: graph.Graph{}}
	mgr.Submit(context.Background(), []*subtask.Subtask{st})

	// a success report is not a valid transition out of QUEUED
	mgr.OnWorkerReport("q1", subtask.Report{SubtaskID: "q1", State: subtask.Succeeded, Band: b})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := mgr.Wait(ctx, "q1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestApplyRebalanceMovesQueuedSubtasks(t *testing.T) {
	bA := band.Band{Address: "A", Name: "numa-0"}
	bB := band.Band{Address: "B", Name: "numa-0"}

	a := assigner.New(nil, nil)
	a.UpdateBands(map[band.Band]band.Resource{bA: {NumCPUs: 1}, bB: {NumCPUs: 1}})

	rm := resourcemgr.New(nil)
	rm.SetCapacity(bA, 0)
	rm.SetCapacity(bB, 0)

	cfg := config.DefaultConfig()
	worker := newFakeWorker()
	loop := bandqueue.NewSubmitLoop(rm, cfg.SubmitPeriod, nil, nil, nil)
	mgr := submanager.New(cfg, a, loop, rm, worker, nil, nil)
	loop.SetDispatch(mgr.DispatchFunc())

	subtasks := []*subtask.Subtask{
		{SubtaskID: "m1", Retryable: true, Graph: graph.Graph{}, ExpectBands: []band.Band{bA}},
		{SubtaskID: "m2", Retryable: true, Graph: graph.Graph{}, ExpectBands: []band.Band{bA}},
	}
	mgr.Submit(context.Background(), subtasks)
	require.Equal(t, 2, loop.Queue(bA).Len())

	mgr.ApplyRebalance(map[band.Band]int{bA: -2, bB: 2})

	assert.Equal(t, 0, loop.Queue(bA).Len())
	assert.Equal(t, 2, loop.Queue(bB).Len())
}

func TestSpeculationIssuesDuplicateAndFirstFinishWins(t *testing.T) {
	bA := band.Band{Address: "A", Name: "numa-0"}
	bB := band.Band{Address: "B", Name: "numa-0"}

	a := assigner.New(nil, nil)
	a.UpdateBands(map[band.Band]band.Resource{bA: {NumCPUs: 2}, bB: {NumCPUs: 2}})

	rm := resourcemgr.New(nil)
	rm.SetCapacity(bA, 2)
	rm.SetCapacity(bB, 2)

	cfg := config.DefaultConfig()
	cfg.SubmitPeriod = 10 * time.Millisecond
	cfg.Speculation.Enabled = true
	cfg.Speculation.Multiplier = 1.1
	worker := newFakeWorker()

	loop := bandqueue.NewSubmitLoop(rm, cfg.SubmitPeriod, nil, nil, nil)
	mgr := submanager.New(cfg, a, loop, rm, worker, nil, nil)
	loop.SetDispatch(mgr.DispatchFunc())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	go mgr.SpeculationLoop(ctx)

	// Both subtasks share a graph layer; pin both to bA so the
	// duplicate can only land on bB.
	fast := &subtask.Subtask{SubtaskID: "fast", Retryable: true, Graph: graph.Graph{}, ExpectBands: []band.Band{bA}}
	slow := &subtask.Subtask{SubtaskID: "slow", Retryable: true, Graph: graph.Graph{}, ExpectBands: []band.Band{bA}}
	mgr.Submit(context.Background(), []*subtask.Subtask{fast, slow})

	require.Eventually(t, func() bool {
		return len(worker.runBands("fast")) == 1 && len(worker.runBands("slow")) == 1
	}, time.Second, 5*time.Millisecond)

	// The fast peer completing establishes the layer's median runtime.
	mgr.OnWorkerReport("slow", subtask.Report{SubtaskID: "slow", State: subtask.Running, Band: bA})
	worker.succeed("fast", bA)

	// The straggler should get a duplicate on bB.
	require.Eventually(t, func() bool {
		bands := worker.runBands("slow")
		return len(bands) == 2 && bands[1] == bB
	}, 2*time.Second, 10*time.Millisecond)

	// The duplicate finishes first and wins; the primary is cancelled.
	worker.succeed("slow", bB)

	rep, err := mgr.Wait(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, subtask.Succeeded, rep.State)
	assert.Equal(t, bB, rep.Band)

	require.Eventually(t, func() bool {
		worker.mu.Lock()
		defer worker.mu.Unlock()
		return worker.cancels["slow"]
	}, time.Second, 10*time.Millisecond)

	// Both attempts' slots are returned.
	require.Eventually(t, func() bool {
		return rm.FreeSlots(bA) == 2 && rm.FreeSlots(bB) == 2
	}, time.Second, 10*time.Millisecond)
}
