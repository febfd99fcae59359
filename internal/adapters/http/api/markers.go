// Package api declares HTTP contracts and route registration helpers for
// the engine's status and control surface.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	"github.com/chronomesh/chronomesh/internal/broadcast"
)

// markerRequest mirrors the body of POST /markers.
type markerRequest struct {
	Kind         string            `json:"kind"`
	Payload      map[string]string `json:"payload,omitempty"`
	Targets      []string          `json:"targets,omitempty"`
	AckTimeoutMS int64             `json:"ack_timeout_ms,omitempty"`
}

// markerResponse reports the per-device outcome of a broadcast.
type markerResponse struct {
	EventID string                  `json:"event_id"`
	Kind    string                  `json:"kind"`
	Origin  string                  `json:"origin"`
	Results map[string]deliveryView `json:"results"`
}

type deliveryView struct {
	Delivered bool   `json:"delivered"`
	Acked     bool   `json:"acked"`
	Error     string `json:"error,omitempty"`
}

func newMarkerResponse(ev *broadcast.Event, results map[string]broadcast.DeliveryStatus) markerResponse {
	resp := markerResponse{
		EventID: ev.ID,
		Kind:    ev.Kind.String(),
		Origin:  time.Unix(0, ev.OriginTimestamp).UTC().Format(time.RFC3339Nano),
		Results: make(map[string]deliveryView, len(results)),
	}
	for id, st := range results {
		v := deliveryView{Delivered: st.Delivered, Acked: st.Acked}
		if st.Err != nil {
			v.Error = st.Err.Error()
		}
		resp.Results[id] = v
	}
	return resp
}

// MarkersHandler handles synchronization marker broadcasts.
type MarkersHandler struct {
	deps Dependencies
}

// NewMarkersHandler creates a new markers handler.
func NewMarkersHandler(deps Dependencies) *MarkersHandler {
	return &MarkersHandler{deps: deps}
}

// HandleMarkers handles GET and POST /markers requests. POST broadcasts a
// marker and waits for acknowledgements; GET returns the retained history.
func (h *MarkersHandler) HandleMarkers(w http.ResponseWriter, r *http.Request) {
	const op = "api.markers"
	switch r.Method {
	case http.MethodGet:
		history := h.deps.EventHistory()
		views := make([]markerResponse, 0, len(history))
		for _, ev := range history {
			views = append(views, newMarkerResponse(ev, ev.Results()))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var req markerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		kind, err := wire.ParseKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}

		ev := h.deps.Broadcast(r.Context(), kind, req.Payload, req.Targets)
		timeout := time.Duration(req.AckTimeoutMS) * time.Millisecond
		results := h.deps.AwaitAcks(r.Context(), ev, timeout)
		writeJSON(w, http.StatusOK, newMarkerResponse(ev, results))

	default:
		http.NotFound(w, r)
	}
}
