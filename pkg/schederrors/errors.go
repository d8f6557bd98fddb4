// Package schederrors defines the sentinel error kinds the scheduling
// core surfaces, per the error handling design.
package schederrors

import (
	"errors"
	"fmt"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/chunk"
)

var (
	// ErrNoAvailableBand is returned when all candidate bands are
	// excluded, or expect_bands cannot be satisfied.
	ErrNoAvailableBand = errors.New("no available band")
	// ErrChunkMetaMissing is returned when MetaClient cannot resolve
	// one or more requested chunk keys. It is the same value as
	// chunk.ErrMetaMissing, so errors.Is matches either name.
	ErrChunkMetaMissing = chunk.ErrMetaMissing
	// ErrBandLost is returned internally when a band transitions out
	// of READY while subtasks are owned by it.
	ErrBandLost = errors.New("band lost")
	// ErrWorkerTransient names the retryable worker-failure kind. The
	// core does not attach it to reports: a worker failure report is
	// classified by its subtask.Cause (CauseWorkerTransient).
	ErrWorkerTransient = errors.New("worker transient error")
	// ErrWorkerPermanent names the terminal worker-failure kind. The
	// core does not attach it to reports: a worker failure report is
	// classified by its subtask.Cause (CauseWorkerPermanent).
	ErrWorkerPermanent = errors.New("worker permanent error")
	// ErrClusterUnavailable names the CLUSTER_UNAVAILABLE kind.
	// ClusterView does not return it: the ClusterAPI's own error is
	// logged and passed to the unavailable hook as is.
	ErrClusterUnavailable = errors.New("cluster unavailable")
)

// NoMatchingSlotsError reports that no band of the required device
// class exists at all.
type NoMatchingSlotsError struct {
	DeviceClass band.DeviceClass
}

func (e *NoMatchingSlotsError) Error() string {
	return fmt.Sprintf("no matching slots for device class %q", e.DeviceClass)
}

func (e *NoMatchingSlotsError) Is(target error) bool {
	_, ok := target.(*NoMatchingSlotsError)
	return ok
}
