// Package api declares HTTP contracts and route registration helpers for
// the engine's status and control surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chronomesh/chronomesh/internal/domain/device"
	"github.com/chronomesh/chronomesh/internal/registry"
)

// deviceView is the JSON shape of one device's sync status.
type deviceView struct {
	ID            string  `json:"id"`
	Addr          string  `json:"addr"`
	State         string  `json:"state"`
	OffsetMS      float64 `json:"offset_ms"`
	UncertaintyMS float64 `json:"uncertainty_ms"`
	Quality       string  `json:"quality"`
	LastSync      string  `json:"last_sync,omitempty"`
	Failures      int     `json:"failures"`
	Healthy       bool    `json:"healthy"`
}

func newDeviceView(d device.Device, healthy bool) deviceView {
	v := deviceView{
		ID:            d.ID,
		Addr:          d.Addr,
		State:         d.State.String(),
		OffsetMS:      float64(d.Offset) / float64(time.Millisecond),
		UncertaintyMS: float64(d.Uncertainty) / float64(time.Millisecond),
		Quality:       d.Quality.String(),
		Failures:      d.Failures,
		Healthy:       healthy,
	}
	if !d.LastSync.IsZero() {
		v.LastSync = d.LastSync.Format(time.RFC3339Nano)
	}
	return v
}

// registerRequest mirrors the body of POST /devices.
type registerRequest struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

func (r registerRequest) validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return errors.New("missing id")
	case strings.TrimSpace(r.Addr) == "":
		return errors.New("missing addr")
	}
	return nil
}

// DevicesHandler handles device registration and status requests.
type DevicesHandler struct {
	deps Dependencies
}

// NewDevicesHandler creates a new devices handler.
func NewDevicesHandler(deps Dependencies) *DevicesHandler {
	return &DevicesHandler{deps: deps}
}

// HandleDevices handles GET and POST /devices requests.
func (h *DevicesHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	const op = "api.devices"
	switch r.Method {
	case http.MethodGet:
		devices := h.deps.Devices()
		views := make([]deviceView, 0, len(devices))
		for _, d := range devices {
			views = append(views, newDeviceView(d, h.deps.Healthy(d.ID)))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		h.deps.RegisterDevice(req.ID, req.Addr)
		d, err := h.deps.Device(req.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err)
			return
		}
		writeJSON(w, http.StatusCreated, newDeviceView(d, h.deps.Healthy(d.ID)))

	default:
		http.NotFound(w, r)
	}
}

// HandleDevice handles GET and DELETE /devices/{id} requests.
func (h *DevicesHandler) HandleDevice(w http.ResponseWriter, r *http.Request) {
	const op = "api.device"
	id := strings.TrimPrefix(r.URL.Path, "/devices/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		d, err := h.deps.Device(id)
		if err != nil {
			if errors.Is(err, registry.ErrUnknownDevice) {
				writeError(w, http.StatusNotFound, "not_found", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err)
			return
		}
		writeJSON(w, http.StatusOK, newDeviceView(d, h.deps.Healthy(id)))

	case http.MethodDelete:
		if _, err := h.deps.Device(id); errors.Is(err, registry.ErrUnknownDevice) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		h.deps.DeregisterDevice(id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}
