package resourcemgr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/resourcemgr"
)

func TestAcquireRelease(t *testing.T) {
	b := band.Band{Address: "A", Name: "numa-0"}
	m := resourcemgr.New(nil)
	m.SetCapacity(b, 2)

	assert.True(t, m.Acquire(b, 1))
	assert.True(t, m.Acquire(b, 1))
	assert.False(t, m.Acquire(b, 1))
	assert.Equal(t, 0, m.FreeSlots(b))

	m.Release(b, 1)
	assert.Equal(t, 1, m.FreeSlots(b))
}

func TestReleaseIsIdempotentAndCapped(t *testing.T) {
	b := band.Band{Address: "A", Name: "numa-0"}
	m := resourcemgr.New(nil)
	m.SetCapacity(b, 2)

	m.Release(b, 1)
	m.Release(b, 1)
	m.Release(b, 1)
	assert.Equal(t, 2, m.FreeSlots(b))
}

func TestCapacityChangedNeverGoesBelowZero(t *testing.T) {
	b := band.Band{Address: "A", Name: "numa-0"}
	m := resourcemgr.New(nil)
	m.SetCapacity(b, 4)
	m.Acquire(b, 4)
	assert.Equal(t, 0, m.FreeSlots(b))

	m.CapacityChanged(b, 1)
	assert.Equal(t, 0, m.FreeSlots(b))

	m.CapacityChanged(b, 5)
	assert.Equal(t, 4, m.FreeSlots(b))
}

func TestUnknownBandStartsAtRequestedCapacity(t *testing.T) {
	b := band.Band{Address: "A", Name: "gpu-0"}
	m := resourcemgr.New(nil)
	m.SetCapacity(b, 3)
	assert.Equal(t, 3, m.FreeSlots(b))
}
