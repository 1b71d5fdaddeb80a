package couch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrtrick/fireengine/pkg/engine/model"
	"github.com/mrtrick/fireengine/pkg/storage"
)

// fakeCouch implements the handful of CouchDB endpoints the adapter uses,
// including revision checking on PUT.
type fakeCouch struct {
	docs map[string]doc
	revs map[string]int
}

func newFakeCouch() *fakeCouch {
	return &fakeCouch{docs: map[string]doc{}, revs: map[string]int{}}
}

func (f *fakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/activities/")
	switch {
	case r.Method == http.MethodGet && id == "_all_docs":
		rows := make([]map[string]any, 0, len(f.docs))
		for _, d := range f.docs {
			rows = append(rows, map[string]any{"id": d.ID, "doc": d})
		}
		json.NewEncoder(w).Encode(map[string]any{"total_rows": len(rows), "rows": rows})
	case r.Method == http.MethodGet:
		d, ok := f.docs[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(d)
	case r.Method == http.MethodPut:
		var d doc
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if current, ok := f.docs[id]; ok && current.Rev != d.Rev {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{"error": "conflict"})
			return
		}
		f.revs[id]++
		d.ID = id
		d.Rev = fmt.Sprintf("%d-rev", f.revs[id])
		f.docs[id] = d
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": d.ID, "rev": d.Rev})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeCouch) {
	t.Helper()
	fake := newFakeCouch()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	store, err := New(srv.URL + "/activities")
	require.NoError(t, err)
	return store, fake
}

func Test_dsn_must_be_an_http_url(t *testing.T) {
	_, err := New("localhost:5984")
	assert.Error(t, err)

	_, err = New("http://localhost:5984/activities/")
	assert.NoError(t, err)
}

func Test_write_and_read_round_trip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, rev, err := store.Write(ctx, &model.Activity{
		DesignID: "ticket",
		State:    []string{"open"},
		Data:     map[string]any{"subject": "it broke"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "1-rev", rev)

	activity, err := store.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, activity.ID)
	assert.Equal(t, rev, activity.Rev)
	assert.Equal(t, "ticket", activity.DesignID)
	assert.Equal(t, []string{"open"}, activity.State)
	assert.Equal(t, "it broke", activity.Data["subject"])
}

func Test_read_missing_document(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func Test_stale_revision_maps_to_conflict(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, rev, err := store.Write(ctx, &model.Activity{DesignID: "ticket", State: []string{"open"}})
	require.NoError(t, err)

	current, err := store.Read(ctx, id)
	require.NoError(t, err)
	_, _, err = store.Write(ctx, current)
	require.NoError(t, err)

	stale := current.Clone()
	stale.Rev = rev
	_, _, err = store.Write(ctx, stale)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func Test_list_skips_design_documents_and_filters(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Write(ctx, &model.Activity{ID: "t1", DesignID: "ticket", State: []string{"open"}})
	require.NoError(t, err)
	_, _, err = store.Write(ctx, &model.Activity{ID: "t2", DesignID: "ticket", State: []string{"closed"}})
	require.NoError(t, err)
	_, _, err = store.Write(ctx, &model.Activity{ID: "o1", DesignID: "order", State: []string{"open"}})
	require.NoError(t, err)
	fake.docs["_design/activities"] = doc{ID: "_design/activities"}

	all, err := store.List(ctx, storage.Query{})
	require.NoError(t, err)
	assert.Len(t, all, 3, "design documents are not activities")

	open, err := store.List(ctx, storage.Query{Design: "ticket", State: "open"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "t1", open[0].ID)

	notOpen, err := store.List(ctx, storage.Query{NotState: "open"})
	require.NoError(t, err)
	require.Len(t, notOpen, 1)
	assert.Equal(t, "t2", notOpen[0].ID)
}
