// Package inmemory keeps activities in process memory. It implements the
// same revision-token conflict detection as the document store, which makes
// it suitable for tests and single-node development setups.
package inmemory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/mrtrick/fireengine/pkg/engine/model"
	"github.com/mrtrick/fireengine/pkg/storage"
)

// Store keeps activity documents in memory, please use NewStore to create
// a new object of this type. Documents are stored marshalled, so readers
// never observe a caller's later mutations.
type Store struct {
	mu         sync.RWMutex
	activities map[string][]byte
	revisions  map[string]string
	order      []string
}

func NewStore() *Store {
	return &Store{
		activities: make(map[string][]byte),
		revisions:  make(map[string]string),
	}
}

var _ storage.ActivityStore = &Store{}

func (mem *Store) Read(ctx context.Context, id string) (*model.Activity, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	raw, ok := mem.activities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return unmarshalActivity(raw)
}

func (mem *Store) List(ctx context.Context, q storage.Query) ([]*model.Activity, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]*model.Activity, 0, len(mem.order))
	for _, id := range mem.order {
		activity, err := unmarshalActivity(mem.activities[id])
		if err != nil {
			return nil, err
		}
		if q.Design != "" && activity.DesignID != q.Design {
			continue
		}
		if q.State != "" && !model.ContainsState(activity.State, q.State) {
			continue
		}
		if q.NotState != "" && model.ContainsState(activity.State, q.NotState) {
			continue
		}
		res = append(res, activity)
	}
	return res, nil
}

func (mem *Store) Write(ctx context.Context, activity *model.Activity) (string, string, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	id := activity.ID
	if id == "" {
		id = uuid.NewString()
	} else if current, exists := mem.revisions[id]; exists && current != activity.Rev {
		return "", "", storage.ErrConflict
	}

	rev := uuid.NewString()
	stored := activity.Clone()
	stored.ID = id
	stored.Rev = rev
	raw, err := json.Marshal(stored)
	if err != nil {
		return "", "", err
	}
	if _, exists := mem.activities[id]; !exists {
		mem.order = append(mem.order, id)
	}
	mem.activities[id] = raw
	mem.revisions[id] = rev
	return id, rev, nil
}

func unmarshalActivity(raw []byte) (*model.Activity, error) {
	var activity model.Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}
