// Package band defines the identifiers and resource records the
// scheduling core uses to talk about worker-side execution domains.
package band

import (
	"sort"
	"strings"
)

// DeviceClass is the coarse device family a Band belongs to, derived
// from its name prefix.
type DeviceClass string

const (
	DeviceClassNUMA DeviceClass = "numa"
	DeviceClassGPU  DeviceClass = "gpu"
)

// Band is a schedulable execution domain on a worker: a CPU NUMA domain
// or a GPU device. Bands are opaque identifiers; ordering is
// lexicographic on (Address, Name).
type Band struct {
	Address string
	Name    string
}

// Class reports the device class implied by the band's name prefix.
// Bands that match neither known prefix report DeviceClassNUMA;
// anything that is not a GPU device schedules as CPU work.
func (b Band) Class() DeviceClass {
	if strings.HasPrefix(b.Name, string(DeviceClassGPU)) {
		return DeviceClassGPU
	}
	return DeviceClassNUMA
}

func (b Band) IsGPU() bool { return b.Class() == DeviceClassGPU }

func (b Band) String() string { return b.Address + "/" + b.Name }

// Less implements the lexicographic (Address, Name) ordering bands are
// specified to have.
func (b Band) Less(other Band) bool {
	if b.Address != other.Address {
		return b.Address < other.Address
	}
	return b.Name < other.Name
}

// Resource is the capacity record advertised for a band. It is
// monotonic within the band's lifetime: a band's resource record only
// grows or stays fixed, it is never reduced except via the band being
// retired entirely.
type Resource struct {
	NumCPUs  int
	NumGPUs  int
	MemBytes int64
}

// Status is the lifecycle state of a band as reported by the cluster.
// Only Ready bands are schedulable.
type Status int

const (
	Starting Status = iota
	Ready
	Stopping
	Stopped
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Ready:
		return "READY"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Sort orders bands lexicographically, for deterministic tie-breaking
// where randomness is not in play.
func Sort(bands []Band) {
	sort.Slice(bands, func(i, j int) bool { return bands[i].Less(bands[j]) })
}
