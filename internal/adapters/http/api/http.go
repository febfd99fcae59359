// Package api declares HTTP contracts and route registration helpers for
// the engine's status and control surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/chronomesh/chronomesh/internal/adapters/wire"
	"github.com/chronomesh/chronomesh/internal/broadcast"
	"github.com/chronomesh/chronomesh/internal/coord"
	"github.com/chronomesh/chronomesh/internal/domain/device"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the app wiring.
type Dependencies interface {
	RegisterDevice(id, addr string)
	DeregisterDevice(id string)
	Devices() []device.Device
	Device(id string) (device.Device, error)
	Healthy(id string) bool

	CreateGroup(name string, deviceIDs []string) (*coord.Group, error)
	Groups() []*coord.Group
	CoordinateGroupSync(ctx context.Context, name string) (map[string]bool, error)
	ScheduleCoordinatedStart(ctx context.Context, name string, leadTime time.Duration) (*coord.Session, error)

	CancelSession(ctx context.Context, id string) error
	Sessions() []coord.Result
	Session(id string) (coord.Result, bool)

	Broadcast(ctx context.Context, kind wire.Kind, payload map[string]string, targets []string) *broadcast.Event
	AwaitAcks(ctx context.Context, ev *broadcast.Event, timeout time.Duration) map[string]broadcast.DeliveryStatus
	EventHistory() []*broadcast.Event
}

// Server wires HTTP routes for the control API.
type Server struct {
	healthHandler   *HealthHandler
	devicesHandler  *DevicesHandler
	groupsHandler   *GroupsHandler
	sessionsHandler *SessionsHandler
	markersHandler  *MarkersHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		devicesHandler:  NewDevicesHandler(deps),
		groupsHandler:   NewGroupsHandler(deps),
		sessionsHandler: NewSessionsHandler(deps),
		markersHandler:  NewMarkersHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/devices", MetricsMiddleware(s.devicesHandler.HandleDevices, "devices"))
	mux.HandleFunc("/devices/", MetricsMiddleware(s.devicesHandler.HandleDevice, "device"))
	mux.HandleFunc("/groups", MetricsMiddleware(s.groupsHandler.HandleGroups, "groups"))
	mux.HandleFunc("/groups/", MetricsMiddleware(s.groupsHandler.HandleGroupAction, "group_action"))
	mux.HandleFunc("/sessions", MetricsMiddleware(s.sessionsHandler.HandleSessions, "sessions"))
	mux.HandleFunc("/sessions/", MetricsMiddleware(s.sessionsHandler.HandleSession, "session"))
	mux.HandleFunc("/markers", MetricsMiddleware(s.markersHandler.HandleMarkers, "markers"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
