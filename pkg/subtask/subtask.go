// Package subtask defines the Subtask record and its lifecycle state
// machine.
package subtask

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/graph"
)

// Priority is the subtask's scheduling priority tuple. Higher
// lexicographic value means earlier scheduling.
type Priority struct {
	Layer    int
	Depth    int
	Tiebreak int
}

// Less reports whether p has lower priority than other (i.e. other
// should be scheduled first).
func (p Priority) Less(other Priority) bool {
	if p.Layer != other.Layer {
		return p.Layer < other.Layer
	}
	if p.Depth != other.Depth {
		return p.Depth < other.Depth
	}
	return p.Tiebreak < other.Tiebreak
}

// State is a node in the subtask lifecycle FSM.
type State int

const (
	Pending State = iota
	Assigned
	Queued
	Submitted
	Running
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Assigned:
		return "ASSIGNED"
	case Queued:
		return "QUEUED"
	case Submitted:
		return "SUBMITTED"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s has no further transitions.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Subtask is the smallest schedulable unit: a small DAG of chunk
// operators plus the metadata the scheduling core needs to place and
// track it.
type Subtask struct {
	SubtaskID string
	SessionID string
	Priority  Priority
	Graph     graph.Graph

	// ExpectBands is an optional list of pre-assigned target bands.
	ExpectBands []band.Band
	// BandsSpecified, when true, makes ExpectBands a hard constraint.
	BandsSpecified bool

	// Retryable is false for operators that are not safely retryable
	// (e.g. side-effecting computations); such subtasks go straight to
	// FAILED rather than PENDING on a worker failure.
	Retryable bool

	// SubmitSequence orders subtasks submitted together in the same
	// submit() call, used as the tie-break key inside a BandQueue.
	SubmitSequence uint64
}

// NewID generates a unique subtask identifier when the caller does not
// supply one.
func NewID() string {
	return uuid.NewString()
}

// Cause categorizes why a subtask reached a terminal or retryable
// failure state.
type Cause int

const (
	CauseNone Cause = iota
	CauseNoMatchingSlots
	CauseNoAvailableBand
	CauseChunkMetaMissing
	CauseBandLost
	CauseWorkerTransient
	CauseWorkerPermanent
	CauseRescheduleExhausted
	CauseCancelled
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseNoMatchingSlots:
		return "no_matching_slots"
	case CauseNoAvailableBand:
		return "no_available_band"
	case CauseChunkMetaMissing:
		return "chunk_meta_missing"
	case CauseBandLost:
		return "band_lost"
	case CauseWorkerTransient:
		return "worker_transient_error"
	case CauseWorkerPermanent:
		return "worker_permanent_error"
	case CauseRescheduleExhausted:
		return "reschedule_exhausted"
	case CauseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// Report is the terminal/status signal returned by a worker, and
// surfaced to callers of wait().
type Report struct {
	SubtaskID string
	State     State
	Band      band.Band
	Cause     Cause
	Err       error
}
