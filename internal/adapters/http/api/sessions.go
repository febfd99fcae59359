// Package api declares HTTP contracts and route registration helpers for
// the engine's status and control surface.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chronomesh/chronomesh/internal/coord"
)

// sessionView is the JSON shape of one coordinated-start session.
type sessionView struct {
	ID             string            `json:"id"`
	Group          string            `json:"group"`
	Master         string            `json:"master,omitempty"`
	State          string            `json:"state"`
	ReferenceStart string            `json:"reference_start,omitempty"`
	LeadTimeMS     float64           `json:"lead_time_ms"`
	TimingErrorMS  float64           `json:"timing_error_ms"`
	Started        []string          `json:"started,omitempty"`
	Excluded       map[string]string `json:"excluded,omitempty"`
}

func newSessionView(res coord.Result) sessionView {
	v := sessionView{
		ID:            res.SessionID,
		Group:         res.Group,
		Master:        res.Master,
		State:         res.State.String(),
		LeadTimeMS:    float64(res.LeadTime) / float64(time.Millisecond),
		TimingErrorMS: float64(res.TimingError) / float64(time.Millisecond),
		Started:       res.Started,
		Excluded:      res.Excluded,
	}
	if !res.ReferenceStart.IsZero() {
		v.ReferenceStart = res.ReferenceStart.Format(time.RFC3339Nano)
	}
	return v
}

// SessionsHandler handles session status and cancellation requests.
type SessionsHandler struct {
	deps Dependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps Dependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

// HandleSessions handles GET /sessions requests.
func (h *SessionsHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	results := h.deps.Sessions()
	views := make([]sessionView, 0, len(results))
	for _, res := range results {
		views = append(views, newSessionView(res))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleSession handles GET and DELETE /sessions/{id} requests. DELETE
// cancels a session that has not started yet.
func (h *SessionsHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.session"
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		res, ok := h.deps.Session(id)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(res))

	case http.MethodDelete:
		err := h.deps.CancelSession(r.Context(), id)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, coord.ErrUnknownSession):
			writeError(w, http.StatusNotFound, "not_found", err)
		case errors.Is(err, coord.ErrSessionTerminal), errors.Is(err, coord.ErrCancelTooLate):
			writeError(w, http.StatusConflict, "conflict", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}

	default:
		http.NotFound(w, r)
	}
}
