// Package clusterview implements the streaming projection of live bands
// and their status that the rest of the scheduling core consumes.
package clusterview

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
)

// Snapshot is a point-in-time view of every known band, its resource
// record, and its status, tagged with a monotonically increasing
// version.
type Snapshot struct {
	Version  uint64
	Bands    map[band.Band]band.Resource
	Statuses map[band.Band]band.Status
}

// Ready returns the bands in the snapshot whose status is READY.
func (s Snapshot) Ready() map[band.Band]band.Resource {
	out := make(map[band.Band]band.Resource, len(s.Bands))
	for b, r := range s.Bands {
		if s.Statuses[b] == band.Ready {
			out[b] = r
		}
	}
	return out
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Version:  s.Version,
		Bands:    make(map[band.Band]band.Resource, len(s.Bands)),
		Statuses: make(map[band.Band]band.Status, len(s.Statuses)),
	}
	for k, v := range s.Bands {
		out.Bands[k] = v
	}
	for k, v := range s.Statuses {
		out.Statuses[k] = v
	}
	return out
}

// API is the consumed ClusterAPI surface.
type API interface {
	// WatchAllBands streams band/status updates starting after
	// sinceVersion. The returned channel is closed when the stream
	// ends (e.g. server-side restart); the caller resubscribes.
	WatchAllBands(ctx context.Context, role string, statuses []band.Status, sinceVersion uint64) (<-chan Snapshot, error)
	// GetAllBands returns the current snapshot directly, used to seed
	// ClusterView on startup.
	GetAllBands(ctx context.Context, role string, statuses []band.Status) (Snapshot, error)
}

// UnavailableFunc is invoked whenever the underlying ClusterAPI cannot
// be reached, the hook for the CLUSTER_UNAVAILABLE observability event.
type UnavailableFunc func(err error)

// ClusterView streams live band state and status transitions. Failures
// reaching the underlying ClusterAPI never propagate to consumers: the
// last good snapshot is retained and re-emitted after a backoff.
type ClusterView struct {
	api      API
	role     string
	statuses []band.Status
	logger   *slog.Logger

	onUnavailable UnavailableFunc
	backoff       *rate.Limiter

	mu          sync.RWMutex
	latest      Snapshot
	nextSubID   int
	subscribers map[int]chan Snapshot
}

// Option configures a ClusterView.
type Option func(*ClusterView)

// WithUnavailableHook registers fn to be called every time the
// ClusterAPI watch stream cannot be reached or errors.
func WithUnavailableHook(fn UnavailableFunc) Option {
	return func(cv *ClusterView) { cv.onUnavailable = fn }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(cv *ClusterView) { cv.logger = l }
}

// New constructs a ClusterView. A one-reservation-per-second limiter
// paces retries against an unreachable ClusterAPI; this is the backoff
// the contract requires before re-emitting the last snapshot.
func New(api API, role string, statuses []band.Status, opts ...Option) *ClusterView {
	cv := &ClusterView{
		api:         api,
		role:        role,
		statuses:    statuses,
		logger:      slog.Default().With("component", "clusterview"),
		backoff:     rate.NewLimiter(rate.Every(time.Second), 1),
		subscribers: make(map[int]chan Snapshot),
		latest: Snapshot{
			Bands:    make(map[band.Band]band.Resource),
			Statuses: make(map[band.Band]band.Status),
		},
	}
	for _, o := range opts {
		o(cv)
	}
	return cv
}

// Snapshot returns the current point-in-time view. Filtering by the
// status set ClusterView was constructed with is done by the ClusterAPI
// (both GetAllBands and WatchAllBands receive that set); apply installs
// snapshots as received, without filtering them again.
func (cv *ClusterView) Snapshot() Snapshot {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.latest.clone()
}

// Subscribe returns a channel that receives a new Snapshot every time
// the view changes. The channel is closed when ctx is done. Emission
// is best-effort: a slow consumer that falls behind only sees the
// latest snapshot, never a queue of stale ones, since each send
// replaces any unconsumed value in the buffered channel of size 1.
func (cv *ClusterView) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	cv.mu.Lock()
	id := cv.nextSubID
	cv.nextSubID++
	cv.subscribers[id] = ch
	select {
	case ch <- cv.latest.clone():
	default:
	}
	cv.mu.Unlock()

	go func() {
		<-ctx.Done()
		cv.mu.Lock()
		delete(cv.subscribers, id)
		close(ch)
		cv.mu.Unlock()
	}()

	return ch
}

// Run drives the watch loop until ctx is cancelled. It seeds from
// GetAllBands, then continuously re-subscribes to WatchAllBands,
// applying a backoff and re-emitting the last known snapshot whenever
// the ClusterAPI is unreachable rather than surfacing the error to
// callers.
func (cv *ClusterView) Run(ctx context.Context) error {
	if snap, err := cv.api.GetAllBands(ctx, cv.role, cv.statuses); err == nil {
		cv.apply(snap)
	} else {
		_ = cv.handleUnavailable(ctx, err)
	}

retry:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cv.mu.RLock()
		sinceVersion := cv.latest.Version
		cv.mu.RUnlock()

		ch, err := cv.api.WatchAllBands(ctx, cv.role, cv.statuses, sinceVersion)
		if err != nil {
			if werr := cv.handleUnavailable(ctx, err); werr != nil {
				return werr
			}
			continue retry
		}

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case snap, ok := <-ch:
				if !ok {
					continue retry
				}
				cv.apply(snap)
			}
		}
	}
}

// apply installs snap as the latest view, discarding it if it is
// stale (a snapshot with a version no newer than what's already held),
// and fans it out to subscribers. Per the ordering guarantee, a stale
// snapshot never overwrites a newer one.
func (cv *ClusterView) apply(snap Snapshot) {
	cv.mu.Lock()
	if snap.Version <= cv.latest.Version && cv.latest.Version != 0 {
		cv.mu.Unlock()
		return
	}
	cv.latest = snap.clone()
	out := snap.clone()
	subs := make([]chan Snapshot, 0, len(cv.subscribers))
	for _, ch := range cv.subscribers {
		subs = append(subs, ch)
	}
	cv.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- out:
		default:
			// drop the stale pending value, replace with the fresh one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- out:
			default:
			}
		}
	}
}

// handleUnavailable runs the backoff, emits the CLUSTER_UNAVAILABLE
// observability event, and re-yields the unchanged last snapshot to
// subscribers so watchers see a heartbeat rather than an error. It
// returns a non-nil error only if ctx was cancelled while waiting out
// the backoff.
func (cv *ClusterView) handleUnavailable(ctx context.Context, err error) error {
	cv.logger.Warn("cluster unavailable, retaining last snapshot", "error", err)
	if cv.onUnavailable != nil {
		cv.onUnavailable(err)
	}
	if werr := cv.backoff.Wait(ctx); werr != nil {
		return werr
	}

	cv.mu.RLock()
	out := cv.latest.clone()
	subs := make([]chan Snapshot, 0, len(cv.subscribers))
	for _, ch := range cv.subscribers {
		subs = append(subs, ch)
	}
	cv.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- out:
		default:
		}
	}
	return nil
}
