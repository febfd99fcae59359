// Package api declares HTTP contracts and route registration helpers for
// the engine's status and control surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chronomesh/chronomesh/internal/coord"
)

// groupView is the JSON shape of one device group.
type groupView struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Master  string   `json:"master,omitempty"`
}

func newGroupView(g *coord.Group) groupView {
	return groupView{Name: g.Name, Members: g.Members, Master: g.Master}
}

// createGroupRequest mirrors the body of POST /groups.
type createGroupRequest struct {
	Name    string   `json:"name"`
	Devices []string `json:"devices"`
}

// startRequest mirrors the body of POST /groups/{name}/start.
type startRequest struct {
	LeadTimeMS int64 `json:"lead_time_ms"`
}

// GroupsHandler handles group management and coordination requests.
type GroupsHandler struct {
	deps Dependencies
}

// NewGroupsHandler creates a new groups handler.
func NewGroupsHandler(deps Dependencies) *GroupsHandler {
	return &GroupsHandler{deps: deps}
}

// HandleGroups handles GET and POST /groups requests.
func (h *GroupsHandler) HandleGroups(w http.ResponseWriter, r *http.Request) {
	const op = "api.groups"
	switch r.Method {
	case http.MethodGet:
		groups := h.deps.Groups()
		views := make([]groupView, 0, len(groups))
		for _, g := range groups {
			views = append(views, newGroupView(g))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var req createGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		g, err := h.deps.CreateGroup(req.Name, req.Devices)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		writeJSON(w, http.StatusCreated, newGroupView(g))

	default:
		http.NotFound(w, r)
	}
}

// HandleGroupAction handles POST /groups/{name}/sync and
// POST /groups/{name}/start requests.
func (h *GroupsHandler) HandleGroupAction(w http.ResponseWriter, r *http.Request) {
	const op = "api.group_action"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	name, action, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/groups/"), "/")
	if !ok || name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	switch action {
	case "sync":
		results, err := h.deps.CoordinateGroupSync(r.Context(), name)
		if err != nil {
			status, code := groupErrStatus(err)
			writeError(w, status, code, err)
			return
		}
		writeJSON(w, http.StatusOK, results)

	case "start":
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		sess, err := h.deps.ScheduleCoordinatedStart(r.Context(), name, time.Duration(req.LeadTimeMS)*time.Millisecond)
		if err != nil && sess == nil {
			status, code := groupErrStatus(err)
			writeError(w, status, code, err)
			return
		}
		writeJSON(w, http.StatusAccepted, newSessionView(sess.Result()))

	default:
		http.NotFound(w, r)
	}
}

func groupErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, coord.ErrUnknownGroup):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, coord.ErrNoSyncQuorum), errors.Is(err, coord.ErrNoParticipants):
		return http.StatusConflict, "no_quorum"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
