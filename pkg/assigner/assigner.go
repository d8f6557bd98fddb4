// Package assigner implements the Assigner: target-band selection for
// subtasks by locality, device class and availability, plus queued-
// subtask rebalancing across bands in response to cluster membership
// change.
package assigner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/chunk"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/schederrors"
	"github.com/khryptorgraphics/subtaskscheduler/pkg/subtask"
)

// Result is the outcome of assigning one subtask: either a chosen band
// or an error. Errors are per-subtask; a failure on one subtask never
// prevents the others in the same batch from being assigned.
type Result struct {
	Band band.Band
	Err  error
}

// Assigner tracks the most recent ready-band list and derives the
// address/device-class indexes the placement algorithm needs. State is
// replaced wholesale on every ClusterView emission, never merged
// incrementally.
type Assigner struct {
	mu sync.RWMutex

	byDeviceClass map[band.DeviceClass][]band.Band
	byAddress     map[string][]band.Band
	bandSet       map[band.Band]bool

	// prevByDeviceClass is the ready-band set as of the *previous*
	// UpdateBands call, used by ReassignSubtasks to tell a band that
	// just turned READY (new-ready) apart from one that has simply
	// gone quiet (present in the ready set across both snapshots with
	// zero backlog).
	prevByDeviceClass map[band.DeviceClass][]band.Band

	meta   chunk.Client
	logger *slog.Logger
}

// New constructs an Assigner. meta may be nil if no subtask in this
// session ever has a Fetch source (locality placement is then never
// exercised); a nil meta client used for locality placement surfaces
// chunk.ErrMetaMissing for every affected subtask.
func New(meta chunk.Client, logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{
		byDeviceClass:     make(map[band.DeviceClass][]band.Band),
		byAddress:         make(map[string][]band.Band),
		bandSet:           make(map[band.Band]bool),
		prevByDeviceClass: make(map[band.DeviceClass][]band.Band),
		meta:              meta,
		logger:            logger.With("component", "assigner"),
	}
}

// UpdateBands replaces the Assigner's view of the ready band set. ready
// should be the Ready() projection of the latest ClusterView snapshot.
func (a *Assigner) UpdateBands(ready map[band.Band]band.Resource) {
	byClass := make(map[band.DeviceClass][]band.Band)
	byAddress := make(map[string][]band.Band)
	bandSet := make(map[band.Band]bool, len(ready))

	for b := range ready {
		byClass[b.Class()] = append(byClass[b.Class()], b)
		byAddress[b.Address] = append(byAddress[b.Address], b)
		bandSet[b] = true
	}

	a.mu.Lock()
	a.prevByDeviceClass = a.byDeviceClass
	a.byDeviceClass = byClass
	a.byAddress = byAddress
	a.bandSet = bandSet
	a.mu.Unlock()
}

type indexSnapshot struct {
	byDeviceClass map[band.DeviceClass][]band.Band
	byAddress     map[string][]band.Band
	bandSet       map[band.Band]bool
}

func (a *Assigner) snapshot() indexSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return indexSnapshot{
		byDeviceClass: a.byDeviceClass,
		byAddress:     a.byAddress,
		bandSet:       a.bandSet,
	}
}

func deviceClassOf(st *subtask.Subtask) band.DeviceClass {
	if st.Graph.HasGPUOperator() {
		return band.DeviceClassGPU
	}
	return band.DeviceClassNUMA
}

func toBandSet(bands []band.Band) map[band.Band]bool {
	set := make(map[band.Band]bool, len(bands))
	for _, b := range bands {
		set[b] = true
	}
	return set
}

func subtractExcluded(bands []band.Band, exclude map[band.Band]bool) []band.Band {
	out := make([]band.Band, 0, len(bands))
	for _, b := range bands {
		if !exclude[b] {
			out = append(out, b)
		}
	}
	return out
}

// pickRandomBand applies an asymmetric exclusion rule: a
// uniform pick is taken preferentially from classBands \ exclude; if
// excluding empties the field, the fallback behavior depends on
// randomWhenUnavailable: if false, there is nothing valid to return
// (NoAvailableBand); if true, it degrades to a uniform pick across the
// *entire* unfiltered classBands list, potentially landing back on an
// excluded band.
func pickRandomBand(classBands []band.Band, exclude map[band.Band]bool, randomWhenUnavailable bool) (band.Band, error) {
	filtered := subtractExcluded(classBands, exclude)
	if len(filtered) > 0 {
		return filtered[rand.Intn(len(filtered))], nil
	}
	if !randomWhenUnavailable {
		return band.Band{}, schederrors.ErrNoAvailableBand
	}
	if len(classBands) == 0 {
		return band.Band{}, schederrors.ErrNoAvailableBand
	}
	return classBands[rand.Intn(len(classBands))], nil
}

// AssignSubtasks computes one target band per subtask. Subtasks are
// processed in two passes: Case A (expect_bands) and Case B
// (FetchShuffle) resolve immediately in pass one; the remainder's
// Fetch-source chunk metadata is looked up in a single batched call
// between passes, then pass two scores candidates by accumulated
// resident size.
func (a *Assigner) AssignSubtasks(ctx context.Context, subtasks []*subtask.Subtask, excludeBands []band.Band, randomWhenUnavailable bool) []Result {
	idx := a.snapshot()
	excludeSet := toBandSet(excludeBands)
	results := make([]Result, len(subtasks))

	type pendingLocality struct {
		index     int
		candidate []band.Band
		class     band.DeviceClass
	}
	var pending []pendingLocality
	needMeta := make(map[chunk.Key]bool)

	for i, st := range subtasks {
		class := deviceClassOf(st)
		classBands := idx.byDeviceClass[class]
		if len(classBands) == 0 {
			results[i] = Result{Err: &schederrors.NoMatchingSlotsError{DeviceClass: class}}
			continue
		}
		candidate := subtractExcluded(classBands, excludeSet)
		if len(candidate) == 0 {
			results[i] = Result{Err: &schederrors.NoMatchingSlotsError{DeviceClass: class}}
			continue
		}

		if len(st.ExpectBands) > 0 {
			var remain []band.Band
			for _, b := range st.ExpectBands {
				if idx.bandSet[b] && !excludeSet[b] {
					remain = append(remain, b)
				}
			}
			if len(remain) > 0 {
				chosen := remain[rand.Intn(len(remain))]
				results[i] = a.finalize(chosen, st, excludeSet, randomWhenUnavailable)
				continue
			}
			if st.BandsSpecified {
				results[i] = Result{Err: schederrors.ErrNoAvailableBand}
				continue
			}
			a.logger.Debug("assigner.expect_bands.substituted", "subtask_id", st.SubtaskID)
			chosen, err := pickRandomBand(classBands, excludeSet, true)
			if err != nil {
				results[i] = Result{Err: err}
				continue
			}
			results[i] = a.finalize(chosen, st, excludeSet, randomWhenUnavailable)
			continue
		}

		if st.Graph.HasFetchShuffle() {
			chosen := candidate[rand.Intn(len(candidate))]
			results[i] = a.finalize(chosen, st, excludeSet, randomWhenUnavailable)
			continue
		}

		sources := st.Graph.FetchSources()
		if len(sources) == 0 {
			chosen := candidate[rand.Intn(len(candidate))]
			results[i] = a.finalize(chosen, st, excludeSet, randomWhenUnavailable)
			continue
		}

		for _, n := range sources {
			needMeta[n.Key] = true
		}
		pending = append(pending, pendingLocality{index: i, candidate: candidate, class: class})
	}

	var metaByKey map[chunk.Key]chunk.Meta
	if len(pending) > 0 && len(needMeta) > 0 {
		keys := make([]chunk.Key, 0, len(needMeta))
		for k := range needMeta {
			keys = append(keys, k)
		}
		if a.meta == nil {
			for _, p := range pending {
				results[p.index] = Result{Err: chunk.ErrMetaMissing}
			}
			pending = nil
		} else {
			metas, err := a.meta.GetChunkMeta(ctx, keys, []string{"store_size", "bands"})
			if err != nil {
				for _, p := range pending {
					results[p.index] = Result{Err: fmt.Errorf("assigner: chunk meta lookup: %w", err)}
				}
				pending = nil
			} else {
				metaByKey = make(map[chunk.Key]chunk.Meta, len(metas))
				for _, m := range metas {
					metaByKey[m.Key] = m
				}
			}
		}
	}

	for _, p := range pending {
		st := subtasks[p.index]
		sizes := make(map[band.Band]int64)
		var missing []chunk.Key

		for _, n := range st.Graph.FetchSources() {
			meta, ok := metaByKey[n.Key]
			if !ok {
				missing = append(missing, n.Key)
				continue
			}
			storeSize := meta.StoreSize
			if n.IsBroadcaster {
				storeSize = 0
			}

			for _, resident := range meta.Bands {
				target := resident
				inCandidate := false
				for _, c := range p.candidate {
					if c == target {
						inCandidate = true
						break
					}
				}

				if resident.Class() != p.class {
					projected := projectAddress(idx.byAddress[resident.Address], p.class, excludeSet)
					if len(projected) > 0 {
						for _, pb := range projected {
							sizes[pb] += storeSize
						}
						continue
					}
					fallback, err := pickRandomBand(idx.byDeviceClass[p.class], excludeSet, true)
					if err == nil {
						sizes[fallback] += storeSize
					}
					continue
				}

				if excludeSet[target] || !inCandidate {
					fallback, err := pickRandomBand(idx.byDeviceClass[p.class], excludeSet, true)
					if err == nil {
						sizes[fallback] += storeSize
					}
					continue
				}
				sizes[target] += storeSize
			}
		}

		if len(missing) > 0 {
			results[p.index] = Result{Err: &chunk.MissingKeysError{Keys: missing}}
			continue
		}

		var chosen band.Band
		if len(sizes) == 0 {
			chosen = p.candidate[rand.Intn(len(p.candidate))]
		} else {
			var max int64 = -1
			var maxBands []band.Band
			for b, sz := range sizes {
				switch {
				case sz > max:
					max = sz
					maxBands = []band.Band{b}
				case sz == max:
					maxBands = append(maxBands, b)
				}
			}
			chosen = maxBands[rand.Intn(len(maxBands))]
		}

		results[p.index] = a.finalize(chosen, st, excludeSet, randomWhenUnavailable)
	}

	return results
}

func projectAddress(sameAddress []band.Band, class band.DeviceClass, exclude map[band.Band]bool) []band.Band {
	var out []band.Band
	for _, b := range sameAddress {
		if b.Class() == class && !exclude[b] {
			out = append(out, b)
		}
	}
	return out
}

// finalize enforces the hard postcondition: a bands_specified subtask
// must land in expect_bands, and a chosen band must not be in
// exclude_bands unless random_when_unavailable permits it.
func (a *Assigner) finalize(chosen band.Band, st *subtask.Subtask, excludeSet map[band.Band]bool, randomWhenUnavailable bool) Result {
	if st.BandsSpecified {
		ok := false
		for _, b := range st.ExpectBands {
			if b == chosen {
				ok = true
				break
			}
		}
		if !ok {
			return Result{Err: schederrors.ErrNoAvailableBand}
		}
	}
	if !randomWhenUnavailable && excludeSet[chosen] {
		return Result{Err: schederrors.ErrNoAvailableBand}
	}
	return Result{Band: chosen}
}

// ReassignSubtasks recomputes queued-subtask distribution across bands
// per device class, independently, returning a delta map whose values
// sum to zero. counts is the current queued backlog per band, as
// reported by the BandQueues.
func (a *Assigner) ReassignSubtasks(counts map[band.Band]int) map[band.Band]int {
	a.mu.RLock()
	readyByClass := a.byDeviceClass
	prevByClass := a.prevByDeviceClass
	a.mu.RUnlock()

	result := make(map[band.Band]int)

	for _, class := range []band.DeviceClass{band.DeviceClassNUMA, band.DeviceClassGPU} {
		ready := readyByClass[class]
		if len(ready) == 0 {
			continue
		}
		readySet := toBandSet(ready)
		prevSet := toBandSet(prevByClass[class])

		var unready []band.Band
		for b := range counts {
			if b.Class() == class && !readySet[b] {
				unready = append(unready, b)
			}
		}
		var newReady []band.Band
		for _, b := range ready {
			if !prevSet[b] {
				newReady = append(newReady, b)
			}
		}

		if len(ready) <= 1 && len(unready) == 0 {
			continue
		}

		deltas := make(map[band.Band]int)
		if len(newReady) == 0 && len(unready) > 0 {
			for _, b := range unready {
				deltas[b] = -counts[b]
			}
		} else {
			sum := 0
			for _, b := range ready {
				sum += counts[b]
			}
			mean := sum / len(ready)
			for _, b := range ready {
				deltas[b] = mean - counts[b]
			}
			for _, b := range unready {
				deltas[b] = -counts[b]
			}
		}

		total := 0
		for _, d := range deltas {
			total += d
		}
		if total < 0 {
			numaBands := readyByClass[band.DeviceClassNUMA]
			if len(numaBands) > 0 {
				credit := numaBands[rand.Intn(len(numaBands))]
				deltas[credit] += -total
			} else {
				a.logger.Warn("reassign: residual credit has no numa band to land on", "residual", -total, "class", class)
			}
		}

		for b, d := range deltas {
			result[b] = d
		}
	}

	return result
}

// IsNoAvailableBand reports whether err is (or wraps) the
// NoAvailableBand sentinel.
func IsNoAvailableBand(err error) bool {
	return errors.Is(err, schederrors.ErrNoAvailableBand)
}
