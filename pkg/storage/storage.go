// Package storage defines the persistence collaborators the engine consumes:
// a document store for activities and a source of design documents. The
// engine treats revision tokens as opaque and passes through whatever token
// it last read; conflict detection belongs to the store.
package storage

import (
	"context"
	"errors"

	"github.com/mrtrick/fireengine/pkg/engine/model"
)

var (
	// ErrNotFound is returned when no document exists for the given id.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by Write when the activity's revision token
	// no longer matches the stored document.
	ErrConflict = errors.New("revision conflict")
)

// Query narrows an activity listing. Zero-value fields impose no filter.
type Query struct {
	// Design filters by owning design id.
	Design string
	// State keeps only activities carrying the tag.
	State string
	// NotState drops activities carrying the tag, eg "closed".
	NotState string
}

// ActivityStore reads and writes activity documents. Write persists the
// activity and returns its assigned id and new revision token; a stale
// revision token yields ErrConflict.
type ActivityStore interface {
	Read(ctx context.Context, id string) (*model.Activity, error)
	List(ctx context.Context, q Query) ([]*model.Activity, error)
	Write(ctx context.Context, activity *model.Activity) (id string, rev string, err error)
}

// DesignSource supplies the raw design documents loaded into the registry
// at startup. Validation and compilation happen in the registry.
type DesignSource interface {
	LoadAll(ctx context.Context) ([][]byte, error)
}
