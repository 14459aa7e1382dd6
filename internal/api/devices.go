package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-arduino/internal/audit"
	"github.com/nerrad567/gray-logic-arduino/internal/bridges/arduino"
	"github.com/nerrad567/gray-logic-arduino/internal/device"
)

// DeviceListResponse lists the driver's handles and, when a store is
// configured, every device seen in earlier runs.
type DeviceListResponse struct {
	Devices []arduino.Handle     `json:"devices"`
	Count   int                  `json:"count"`
	Known   []device.KnownDevice `json:"known,omitempty"`
}

// WriteDeviceRequest is the body of POST /devices/{guid}/write.
type WriteDeviceRequest struct {
	Data json.RawMessage `json:"data"`
}

// handleListDevices returns the devices the driver currently knows.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	handles, err := s.driver.Handles(r.Context())
	if err != nil {
		writeDriverError(w, err)
		return
	}

	resp := DeviceListResponse{Devices: handles, Count: len(handles)}
	if s.devices != nil {
		resp.Known = s.devices.ListDevices()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWriteDevice sends a payload to one device.
func (s *Server) handleWriteDevice(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")

	var req WriteDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Data) == 0 {
		writeBadRequest(w, "data is required")
		return
	}

	if err := s.driver.WriteGUID(r.Context(), guid, req.Data); err != nil {
		writeDriverError(w, err)
		return
	}
	s.auditLog(r, audit.ActionWrite, audit.EntityDevice, guid, map[string]any{"data": req.Data})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "written", "guid": guid})
}

// handleForgetDevice drops a device from the store so it is not restored on
// the next host-up. A live device is recorded again when it next sends data.
func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeUnavailable(w, "device store not configured")
		return
	}
	guid := chi.URLParam(r, "guid")

	if err := s.devices.Forget(r.Context(), guid); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+guid)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	s.auditLog(r, audit.ActionForget, audit.EntityDevice, guid, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten", "guid": guid})
}
