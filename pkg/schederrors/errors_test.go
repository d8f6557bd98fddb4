package schederrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/schederrors"
)

func TestNoMatchingSlotsErrorIsMatchesByType(t *testing.T) {
	err := &schederrors.NoMatchingSlotsError{DeviceClass: band.DeviceClassGPU}
	wrapped := fmt.Errorf("assign: %w", err)

	assert.True(t, errors.Is(wrapped, &schederrors.NoMatchingSlotsError{}))

	var target *schederrors.NoMatchingSlotsError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, band.DeviceClassGPU, target.DeviceClass)
}

func TestSentinelsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(schederrors.ErrBandLost, schederrors.ErrNoAvailableBand))
	assert.True(t, errors.Is(fmt.Errorf("wrap: %w", schederrors.ErrBandLost), schederrors.ErrBandLost))
}
