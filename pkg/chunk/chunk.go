// Package chunk defines the chunk metadata record the Assigner consumes
// from the storage/metadata service, and the consumed interface used to
// fetch it.
package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/band"
)

// Key identifies a chunk, globally unique per session.
type Key string

// Meta describes where a chunk currently resides and how large it is.
type Meta struct {
	Key       Key
	StoreSize int64
	Bands     []band.Band
}

// ErrMetaMissing is returned by a MetaClient when one or more requested
// keys are unknown to the metadata service.
var ErrMetaMissing = errors.New("chunk meta missing")

// MissingKeysError wraps ErrMetaMissing with the specific keys that
// could not be resolved, so callers can log or surface them.
type MissingKeysError struct {
	Keys []Key
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("chunk meta missing for %d key(s): %v", len(e.Keys), e.Keys)
}

func (e *MissingKeysError) Unwrap() error { return ErrMetaMissing }

// Client is the consumed MetaAPI surface: a single batched round-trip
// per call. Implementations must not issue one request per key.
type Client interface {
	GetChunkMeta(ctx context.Context, keys []Key, fields []string) ([]Meta, error)
}
