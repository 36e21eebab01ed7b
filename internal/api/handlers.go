// Package api exposes HTTP handlers for the roster service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"example.com/roster/internal/domain"
	"example.com/roster/internal/logging"
)

// Roster is the subset of the roster store the handlers depend on.
type Roster interface {
	List(ctx context.Context) map[string]domain.Activity
	Names() []string
	Enroll(ctx context.Context, activity, participant string) error
	Remove(ctx context.Context, activity, participant string) error
}

// Handler binds roster operations to HTTP routes.
type Handler struct {
	roster    Roster
	logger    *zap.Logger
	staticDir string
}

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = logging.OrNop(logger)
	}
}

// WithStaticDir serves the browser client from dir under /static/ and
// redirects / to its index page.
func WithStaticDir(dir string) Option {
	return func(h *Handler) {
		h.staticDir = dir
	}
}

// NewHandler builds a Handler.
func NewHandler(roster Roster, opts ...Option) *Handler {
	h := &Handler{roster: roster, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /activities", h.listActivities)
	mux.HandleFunc("POST /activities/{activity}/signup", h.signup)
	mux.HandleFunc("DELETE /activities/{activity}/participant/{email}", h.removeParticipant)
	mux.HandleFunc("DELETE /activities/{activity}/unregister", h.unregister)
	mux.HandleFunc("GET /debug/activities", h.debugActivities)
	mux.HandleFunc("GET /healthz", healthz)

	if h.staticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(h.staticDir))))
		mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/static/index.html", http.StatusTemporaryRedirect)
		})
	}
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	snapshot := h.roster.List(r.Context())

	resp := make(map[string]ActivityView, len(snapshot))
	for name, activity := range snapshot {
		resp[name] = toActivityView(activity)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	activity := r.PathValue("activity")
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing email parameter")
		return
	}

	if err := h.roster.Enroll(r.Context(), activity, email); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Signed up %s for %s", email, activity)})
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, r.PathValue("activity"), r.PathValue("email"))
}

func (h *Handler) unregister(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, r.PathValue("activity"), r.URL.Query().Get("email"))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request, activity, email string) {
	if email == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing email parameter")
		return
	}

	if err := h.roster.Remove(r.Context(), activity, email); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Removed %s from %s", email, activity)})
}

// debugActivities dumps the whole catalog. The sample is the
// lexically first activity as a [name, activity] pair.
func (h *Handler) debugActivities(w http.ResponseWriter, r *http.Request) {
	snapshot := h.roster.List(r.Context())

	all := make(map[string]ActivityView, len(snapshot))
	for name, activity := range snapshot {
		all[name] = toActivityView(activity)
	}

	resp := DebugResponse{
		TotalActivities: len(snapshot),
		AllActivities:   all,
	}
	for _, name := range h.roster.Names() {
		if view, ok := all[name]; ok {
			resp.SampleActivity = []any{name, view}
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var perr *domain.PersistenceError
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Activity not found")
	case errors.Is(err, domain.ErrNotEnrolled):
		writeError(w, http.StatusNotFound, "not_enrolled", "Participant not found in this activity")
	case errors.Is(err, domain.ErrAlreadyEnrolled):
		writeError(w, http.StatusBadRequest, "already_enrolled", "Student is already signed up")
	case errors.Is(err, domain.ErrActivityFull):
		writeError(w, http.StatusBadRequest, "activity_full", "Activity is full")
	case errors.As(err, &perr):
		writeError(w, http.StatusInternalServerError, "persistence_error", "roster could not be saved")
	default:
		h.logger.Error("unexpected roster error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// ActivityView is the public representation of an activity.
type ActivityView struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// MessageResponse is returned by successful mutations.
type MessageResponse struct {
	Message string `json:"message"`
}

// DebugResponse summarises the loaded catalog.
type DebugResponse struct {
	TotalActivities int                     `json:"total_activities"`
	SampleActivity  []any                   `json:"sample_activity"`
	AllActivities   map[string]ActivityView `json:"all_activities"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(activity domain.Activity) ActivityView {
	participants := activity.Participants
	if participants == nil {
		participants = []string{}
	}
	return ActivityView{
		Description:     activity.Description,
		Schedule:        activity.Schedule,
		MaxParticipants: activity.Capacity,
		Participants:    participants,
	}
}
