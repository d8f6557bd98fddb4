package autoscaler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/subtaskscheduler/internal/config"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/autoscaler"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
)

type fakeQueueState struct {
	mu      sync.Mutex
	depth   map[band.Band]int
	running map[band.Band]int
	bands   []band.Band
}

func (f *fakeQueueState) QueueDepth(b band.Band) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth[b]
}

func (f *fakeQueueState) RunningCount(b band.Band) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[b]
}

func (f *fakeQueueState) Bands() []band.Band {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]band.Band, len(f.bands))
	copy(out, f.bands)
	return out
}

func TestSchedulerBacklogSignalFiresAfterTimeout(t *testing.T) {
	b := band.Band{Address: "A", Name: "numa-0"}
	state := &fakeQueueState{
		depth: map[band.Band]int{b: 5},
		bands: []band.Band{b},
	}

	cfg := config.DefaultConfig()
	cfg.Autoscale.SchedulerBacklogTimeout = 30 * time.Millisecond
	cfg.Autoscale.WorkerIdleTimeout = time.Hour

	as := autoscaler.New(cfg, state, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go as.Run(ctx)

	select {
	case sig := <-as.Signals():
		assert.Equal(t, autoscaler.SchedulerBacklog, sig.Kind)
		assert.Equal(t, b, sig.Band)
	case <-time.After(time.Second):
		t.Fatal("expected a scheduler_backlog signal")
	}
}

func TestWorkerIdleSignalFiresAfterTimeout(t *testing.T) {
	b := band.Band{Address: "A", Name: "numa-0"}
	state := &fakeQueueState{
		depth:   map[band.Band]int{b: 0},
		running: map[band.Band]int{b: 0},
		bands:   []band.Band{b},
	}

	cfg := config.DefaultConfig()
	cfg.Autoscale.SchedulerBacklogTimeout = time.Hour
	cfg.Autoscale.WorkerIdleTimeout = 30 * time.Millisecond

	as := autoscaler.New(cfg, state, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go as.Run(ctx)

	select {
	case sig := <-as.Signals():
		assert.Equal(t, autoscaler.WorkerIdle, sig.Kind)
		assert.Equal(t, b, sig.Band)
	case <-time.After(time.Second):
		t.Fatal("expected a worker_idle signal")
	}
}

func TestNoSignalWhileBandHasRunningWork(t *testing.T) {
	b := band.Band{Address: "A", Name: "numa-0"}
	state := &fakeQueueState{
		depth:   map[band.Band]int{b: 0},
		running: map[band.Band]int{b: 1},
		bands:   []band.Band{b},
	}

	cfg := config.DefaultConfig()
	cfg.Autoscale.SchedulerBacklogTimeout = time.Hour
	cfg.Autoscale.WorkerIdleTimeout = 20 * time.Millisecond

	as := autoscaler.New(cfg, state, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go as.Run(ctx)

	select {
	case sig := <-as.Signals():
		t.Fatalf("unexpected signal while band has running work: %+v", sig)
	case <-time.After(100 * time.Millisecond):
	}
	require.True(t, true)
}
