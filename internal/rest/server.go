package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrtrick/fireengine/internal/appcontext"
	"github.com/mrtrick/fireengine/internal/config"
	"github.com/mrtrick/fireengine/internal/log"
	"github.com/mrtrick/fireengine/internal/profile"
	"github.com/mrtrick/fireengine/internal/rest/middleware"
	"github.com/mrtrick/fireengine/pkg/engine"
	"github.com/mrtrick/fireengine/pkg/engine/model"
	"github.com/mrtrick/fireengine/pkg/identity"
	"github.com/mrtrick/fireengine/pkg/storage"
)

type Server struct {
	engine *engine.Engine
	addr   string
	server *http.Server
}

func NewServer(eng *engine.Engine, verifier *identity.TokenVerifier, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine: eng,
		addr:   conf.Server.Addr,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Logger())
	r.Use(middleware.Cors())
	r.Use(middleware.Identity(verifier))

	r.Route("/designs", func(r chi.Router) {
		r.Get("/", s.getDesigns)
		r.Get("/{design}", s.getDesign)
		r.Get("/{design}/graph", s.getDesignGraph)
		r.Post("/{design}/fire/{action}", s.createActivity)
	})
	r.Route("/activities", func(r chi.Router) {
		r.Get("/", s.getActivities)
		r.Get("/{activity}", s.getActivity)
		r.Get("/{activity}/actions", s.getActivityActions)
		r.Post("/{activity}/fire/{action}", s.fireActivity)
	})

	// system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", s.getStatus)
	})
	return &s
}

func (s *Server) Start() net.Listener {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Error("failed to listen: %v", err)
		return nil
	}
	log.Info("FireEngine REST server listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

// GET /designs
// With ?fireable=create only designs whose create action the caller may
// fire are returned.
func (s *Server) getDesigns(w http.ResponseWriter, r *http.Request) {
	user := appcontext.GetUser(r.Context())
	designs := s.engine.Registry().All()

	if r.URL.Query().Get("fireable") == model.CreateActionID {
		fireable := make([]*model.Design, 0, len(designs))
		for _, design := range designs {
			action, err := design.Action(model.CreateActionID)
			if err != nil {
				continue
			}
			if s.engine.Allowed(action, user, nil) {
				fireable = append(fireable, design)
			}
		}
		designs = fireable
	}
	writeJSON(w, http.StatusOK, designs)
}

// GET /designs/{design}
func (s *Server) getDesign(w http.ResponseWriter, r *http.Request) {
	design, err := s.engine.Registry().Get(chi.URLParam(r, "design"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, design)
}

// GET /designs/{design}/graph
func (s *Server) getDesignGraph(w http.ResponseWriter, r *http.Request) {
	design, err := s.engine.Registry().Get(chi.URLParam(r, "design"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	_, _ = w.Write([]byte(design.Graph()))
}

// POST /designs/{design}/fire/{action}
// Fires a design-level action; the only one defined is "create".
func (s *Server) createActivity(w http.ResponseWriter, r *http.Request) {
	designID := chi.URLParam(r, "design")
	actionID := chi.URLParam(r, "action")
	user := appcontext.GetUser(r.Context())

	action, err := s.engine.Registry().Action(designID, actionID)
	if err != nil {
		writeError(w, err)
		return
	}
	inputs, err := readInputs(r)
	if err != nil {
		writeError(w, err)
		return
	}

	activity, err := s.engine.Fire(r.Context(), action, user, inputs, engine.FireOptions{})
	observeFire(designID, actionID, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, activity)
}

// GET /activities?design=&state=&notstate=
func (s *Server) getActivities(w http.ResponseWriter, r *http.Request) {
	user := appcontext.GetUser(r.Context())
	q := storage.Query{
		Design:   r.URL.Query().Get("design"),
		State:    r.URL.Query().Get("state"),
		NotState: r.URL.Query().Get("notstate"),
	}
	activities, err := s.engine.List(r.Context(), q, user, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activities)
}

// GET /activities/{activity}
func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	activity, err := s.loadReadable(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

// GET /activities/{activity}/actions
// Lists the actions the caller is currently allowed to fire.
func (s *Server) getActivityActions(w http.ResponseWriter, r *http.Request) {
	activity, err := s.loadReadable(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user := appcontext.GetUser(r.Context())
	actions := s.engine.AllowedActions(activity, user, nil)
	out := make([]actionSummary, 0, len(actions))
	for _, action := range actions {
		out = append(out, actionSummary{
			ID:   action.ID(),
			Name: action.Name(),
			From: action.Spec.From,
			To:   action.Spec.To,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /activities/{activity}/fire/{action}
func (s *Server) fireActivity(w http.ResponseWriter, r *http.Request) {
	activityID := chi.URLParam(r, "activity")
	actionID := chi.URLParam(r, "action")
	user := appcontext.GetUser(r.Context())

	activity, err := s.engine.Load(r.Context(), activityID)
	if err != nil {
		writeError(w, err)
		return
	}
	action := activity.Action(actionID)
	if action == nil {
		writeError(w, &engine.NotFoundError{Kind: "action", ID: actionID})
		return
	}
	inputs, err := readInputs(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.engine.Fire(r.Context(), action, user, inputs, engine.FireOptions{})
	observeFire(activity.DesignID, actionID, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /system/status
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    s.engine.Name(),
		"profile": profile.Current,
		"designs": len(s.engine.Registry().All()),
	})
}

type actionSummary struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	From []string `json:"from,omitempty"`
	To   []string `json:"to,omitempty"`
}

func (s *Server) loadReadable(r *http.Request) (*model.Activity, error) {
	user := appcontext.GetUser(r.Context())
	activity, err := s.engine.Load(r.Context(), chi.URLParam(r, "activity"))
	if err != nil {
		return nil, err
	}
	if !s.engine.OperationAllowed(activity, engine.OperationRead, user, nil) {
		if user == nil {
			return nil, &engine.UnauthorizedError{Message: "reading this activity requires authentication"}
		}
		return nil, &engine.ForbiddenError{Message: "reading this activity is forbidden"}
	}
	return activity, nil
}

func readInputs(r *http.Request) (map[string]any, error) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var inputs map[string]any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, &engine.ValidationError{Errors: []string{"request body is not a JSON object"}}
	}
	return inputs, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %s", err)
	}
}

type apiError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeError(w http.ResponseWriter, err error) {
	status := engine.StatusCode(err)
	body := map[string]any{"error": apiError{Message: err.Error(), Status: status}}
	var validation *engine.ValidationError
	if errors.As(err, &validation) {
		body["details"] = validation.Errors
	}
	writeJSON(w, status, body)
}
