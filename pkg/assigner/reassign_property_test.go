package assigner_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/assigner"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
)

// TestReassignSubtasksDeltasSumToZero checks that ReassignSubtasks
// always returns a map whose values sum to zero, across randomly
// generated backlog distributions: every shed subtask has somewhere
// to go.
func TestReassignSubtasksDeltasSumToZero(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	bands := []band.Band{b1, b2, b3}

	properties.Property("reassign deltas sum to zero", prop.ForAll(
		func(c1, c2, c3 uint8) bool {
			a := assigner.New(nil, nil)
			a.UpdateBands(readyOf(bands...))
			a.UpdateBands(readyOf(bands...))

			counts := map[band.Band]int{
				b1: int(c1) % 50,
				b2: int(c2) % 50,
				b3: int(c3) % 50,
			}
			deltas := a.ReassignSubtasks(counts)

			total := 0
			for _, d := range deltas {
				total += d
			}
			return total == 0
		},
		gen.UInt8(),
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
