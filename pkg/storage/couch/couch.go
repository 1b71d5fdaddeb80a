// Package couch adapts a CouchDB database to the storage.ActivityStore
// contract. CouchDB revision tokens map directly onto the engine's opaque
// revision tokens; a 409 from the database is a revision conflict.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mrtrick/fireengine/pkg/engine/model"
	"github.com/mrtrick/fireengine/pkg/storage"
)

type Store struct {
	base   string
	client *http.Client
	logger hclog.Logger
}

// New connects to the database named by the DSN,
// eg "http://localhost:5984/activities".
func New(dsn string) (*Store, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid couchdb dsn: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid couchdb dsn %q: expected http(s) url", dsn)
	}
	return &Store{
		base:   strings.TrimRight(u.String(), "/"),
		client: &http.Client{Timeout: 30 * time.Second},
		logger: hclog.Default().Named("couch-store"),
	}, nil
}

var _ storage.ActivityStore = &Store{}

// doc is the persisted document shape, with the activity's id and revision
// token mapped onto CouchDB's _id and _rev.
type doc struct {
	ID      string               `json:"_id,omitempty"`
	Rev     string               `json:"_rev,omitempty"`
	Design  string               `json:"design"`
	State   []string             `json:"state,omitempty"`
	Data    map[string]any       `json:"data,omitempty"`
	Roles   model.Roles          `json:"roles,omitempty"`
	Links   map[string]any       `json:"links,omitempty"`
	History []model.HistoryEntry `json:"history,omitempty"`
}

func toDoc(a *model.Activity) doc {
	return doc{
		ID:      a.ID,
		Rev:     a.Rev,
		Design:  a.DesignID,
		State:   a.State,
		Data:    a.Data,
		Roles:   a.Roles,
		Links:   a.Links,
		History: a.History,
	}
}

func (d doc) activity() *model.Activity {
	return &model.Activity{
		ID:       d.ID,
		Rev:      d.Rev,
		DesignID: d.Design,
		State:    d.State,
		Data:     d.Data,
		Roles:    d.Roles,
		Links:    d.Links,
		History:  d.History,
	}
}

func (s *Store) Read(ctx context.Context, id string) (*model.Activity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var d doc
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return nil, fmt.Errorf("failed to decode activity %s: %w", id, err)
		}
		return d.activity(), nil
	case http.StatusNotFound:
		return nil, storage.ErrNotFound
	default:
		return nil, s.unexpected(resp)
	}
}

func (s *Store) List(ctx context.Context, q storage.Query) ([]*model.Activity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/_all_docs?include_docs=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, s.unexpected(resp)
	}

	var body struct {
		Rows []struct {
			Doc doc `json:"doc"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode activity listing: %w", err)
	}

	res := make([]*model.Activity, 0, len(body.Rows))
	for _, row := range body.Rows {
		// Design documents live in the same database.
		if strings.HasPrefix(row.Doc.ID, "_design/") {
			continue
		}
		activity := row.Doc.activity()
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

func (s *Store) Write(ctx context.Context, activity *model.Activity) (string, string, error) {
	d := toDoc(activity)
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.base+"/"+url.PathEscape(d.ID), bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusAccepted:
		var body struct {
			ID  string `json:"id"`
			Rev string `json:"rev"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", "", fmt.Errorf("failed to decode write response: %w", err)
		}
		return body.ID, body.Rev, nil
	case http.StatusConflict:
		return "", "", storage.ErrConflict
	case http.StatusNotFound:
		return "", "", storage.ErrNotFound
	default:
		return "", "", s.unexpected(resp)
	}
}

func (s *Store) unexpected(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	s.logger.Error("unexpected couchdb response", "status", resp.StatusCode, "body", string(body))
	return fmt.Errorf("unexpected couchdb response: %s", resp.Status)
}
