// Package resourcemgr implements GlobalResourceManager: per-band free
// execution slot tracking with no cross-band coordination.
package resourcemgr

import (
	"sync"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/metrics"
)

// bandState holds one band's slot accounting behind its own lock;
// bands never coordinate with each other.
type bandState struct {
	mu       sync.Mutex
	capacity int
	free     int
}

// Manager tracks free_slots[band], initialized from ClusterView
// snapshots and adjusted by acquire/release/capacity_changed.
type Manager struct {
	mu    sync.RWMutex
	bands map[band.Band]*bandState

	reg *metrics.Registry
}

// New constructs an empty Manager. reg may be nil if metrics are not
// wired (e.g. in unit tests).
func New(reg *metrics.Registry) *Manager {
	return &Manager{
		bands: make(map[band.Band]*bandState),
		reg:   reg,
	}
}

func (m *Manager) stateFor(b band.Band) *bandState {
	m.mu.RLock()
	st, ok := m.bands[b]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.bands[b]; ok {
		return st
	}
	st = &bandState{}
	m.bands[b] = st
	return st
}

// SetCapacity establishes or updates a band's total capacity, e.g. when
// ClusterView first reports it. Free slots are initialized to the full
// capacity for a previously unknown band.
func (m *Manager) SetCapacity(b band.Band, capacity int) {
	st := m.stateFor(b)
	st.mu.Lock()
	if st.capacity == 0 && st.free == 0 {
		st.free = capacity
	}
	st.capacity = capacity
	st.mu.Unlock()
	m.reportFree(b, st)
}

// Acquire returns true iff free_slots[band] >= n, decrementing
// atomically on success. Non-blocking: callers poll via a queue drain
// loop rather than waiting here.
func (m *Manager) Acquire(b band.Band, n int) bool {
	st := m.stateFor(b)
	st.mu.Lock()
	ok := st.free >= n
	if ok {
		st.free -= n
	}
	st.mu.Unlock()
	if ok {
		m.reportFree(b, st)
	}
	return ok
}

// Release increments free_slots[band] by n, capped at the band's
// capacity. Idempotent in the sense that releasing more than was ever
// acquired simply clamps rather than corrupting state, which is what
// lets SubtaskManager's best-effort cancellation call it more than
// once for the same slot.
func (m *Manager) Release(b band.Band, n int) {
	st := m.stateFor(b)
	st.mu.Lock()
	st.free += n
	if st.free > st.capacity {
		st.free = st.capacity
	}
	st.mu.Unlock()
	m.reportFree(b, st)
}

// CapacityChanged adjusts free_slots[band] by the delta between
// newCap and the band's previous capacity, never letting free go
// below zero.
func (m *Manager) CapacityChanged(b band.Band, newCap int) {
	st := m.stateFor(b)
	st.mu.Lock()
	delta := newCap - st.capacity
	st.capacity = newCap
	st.free += delta
	if st.free < 0 {
		st.free = 0
	}
	if st.free > st.capacity {
		st.free = st.capacity
	}
	st.mu.Unlock()
	m.reportFree(b, st)
}

// FreeSlots reports the current free slot count for a band.
func (m *Manager) FreeSlots(b band.Band) int {
	st := m.stateFor(b)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.free
}

// Remove drops a band's accounting entirely, used when a band is
// retired from the cluster rather than merely cycling status.
func (m *Manager) Remove(b band.Band) {
	m.mu.Lock()
	delete(m.bands, b)
	m.mu.Unlock()
	if m.reg != nil {
		m.reg.FreeSlots.DeleteLabelValues(b.String())
	}
}

func (m *Manager) reportFree(b band.Band, st *bandState) {
	if m.reg == nil {
		return
	}
	st.mu.Lock()
	free := st.free
	st.mu.Unlock()
	m.reg.FreeSlots.WithLabelValues(b.String()).Set(float64(free))
}
