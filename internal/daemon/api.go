package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/labmgr/labmgr/internal/buildinfo"
	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/labmanager"
	"github.com/labmgr/labmgr/internal/lifecycle"
	"github.com/labmgr/labmgr/internal/models"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 1000
	probeTimeout       = 5 * time.Minute
)

// CloudView is the API representation of a cloud profile.
type CloudView struct {
	Description     string   `json:"description"`
	Host            string   `json:"host"`
	Organization    string   `json:"organization"`
	Workspace       string   `json:"workspace"`
	Configuration   string   `json:"configuration"`
	OnlineAgents    int      `json:"online_agents"`
	MaxOnlineAgents int      `json:"max_online_agents"`
	OnlineNames     []string `json:"online_names"`
}

// TestResultView is the API representation of a connection test.
type TestResultView struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// routes registers the v1 API.
//
// Endpoints:
//   - GET  /healthz
//   - GET  /metrics
//   - GET  /v1/version
//   - GET  /v1/clouds
//   - GET  /v1/clouds/{cloud}/machines
//   - POST /v1/clouds/{cloud}/test
//   - GET  /v1/agents
//   - POST /v1/agents/{name}/launch
//   - POST /v1/agents/{name}/disconnect
//   - GET  /v1/agents/{name}/events
func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Route("/clouds", func(r chi.Router) {
			r.Get("/", s.handleListClouds)
			r.Get("/{cloud}/machines", s.handleListMachines)
			r.Post("/{cloud}/test", s.handleTestCloud)
		})
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/{name}/launch", s.handleLaunch)
			r.Post("/{name}/disconnect", s.handleDisconnect)
			r.Get("/{name}/events", s.handleAgentEvents)
		})
	})
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
		"date":    buildinfo.Date,
	})
}

func (s *Service) handleListClouds(w http.ResponseWriter, _ *http.Request) {
	profiles := s.registry.List()
	out := make([]CloudView, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, CloudView{
			Description:     p.Description(),
			Host:            p.Host(),
			Organization:    p.Organization(),
			Workspace:       p.Workspace(),
			Configuration:   p.Configuration(),
			OnlineAgents:    p.OnlineAgents(),
			MaxOnlineAgents: p.MaxOnlineAgents(),
			OnlineNames:     p.OnlineAgentNames(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleListMachines(w http.ResponseWriter, r *http.Request) {
	profile, err := s.registry.Lookup(chi.URLParam(r, "cloud"))
	if err != nil {
		writeError(w, statusForError(err), "cloud not found", err)
		return
	}
	names, err := profile.ListMachineNames(r.Context())
	if err != nil {
		writeError(w, statusForError(err), "list machines failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cloud": profile.Description(), "machines": names})
}

func (s *Service) handleTestCloud(w http.ResponseWriter, r *http.Request) {
	profile, err := s.registry.Lookup(chi.URLParam(r, "cloud"))
	if err != nil {
		writeError(w, statusForError(err), "cloud not found", err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	res := profile.Test(ctx)
	view := TestResultView{OK: res.OK, Message: res.Message}
	if res.Err != nil {
		view.Details = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Service) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	agents := s.agents.list()
	out := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLaunch runs bring-up to completion even if the client goes away.
func (s *Service) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var transcript bytes.Buffer
	err := s.Launch(context.WithoutCancel(r.Context()), chi.URLParam(r, "name"), &transcript)
	if err != nil {
		fmt.Fprintf(&transcript, "ERROR: %v\n", err)
		writeTranscript(w, statusForError(err), transcript.Bytes())
		return
	}
	writeTranscript(w, http.StatusOK, transcript.Bytes())
}

func (s *Service) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var transcript bytes.Buffer
	if err := s.Disconnect(context.WithoutCancel(r.Context()), chi.URLParam(r, "name"), &transcript); err != nil {
		writeError(w, statusForError(err), "disconnect failed", err)
		return
	}
	writeTranscript(w, http.StatusOK, transcript.Bytes())
}

func (s *Service) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.agents.get(name); err != nil {
		writeError(w, http.StatusNotFound, "agent not found", err)
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("tail"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tail", err)
		return
	}
	events, err := s.store.ListEventsByAgentTail(r.Context(), name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events failed", err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": name, "events": events})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultEventsLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("tail must be a positive integer")
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	return limit, nil
}

// statusForError maps sentinel errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrAgentNotFound),
		errors.Is(err, cloud.ErrProfileNotFound),
		errors.Is(err, labmanager.ErrConfigurationNotFound),
		errors.Is(err, labmanager.ErrMachineNotFound):
		return http.StatusNotFound
	case errors.Is(err, cloud.ErrCapacity),
		errors.Is(err, ErrLaunchNotSupported),
		errors.Is(err, ErrAgentOnline),
		errors.Is(err, lifecycle.ErrMachineState):
		return http.StatusConflict
	case errors.Is(err, labmanager.ErrConnection):
		return http.StatusBadGateway
	default:
		var fault *labmanager.FaultError
		if errors.As(err, &fault) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func writeTranscript(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string, err ...error) {
	payload := map[string]string{"error": msg}
	if len(err) > 0 && err[0] != nil {
		payload["details"] = err[0].Error()
	}
	writeJSON(w, status, payload)
}
