package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-arduino/internal/audit"
	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// handleHealth returns the server health status. The driver connection is
// included so a supervisor can tell "API up" from "device reachable".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if snap, err := s.driver.Snapshot(r.Context()); err == nil {
		resp["connection"] = snap.Connection
		resp["flash"] = snap.Flash
	} else {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus returns the driver snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.driver.Snapshot(r.Context())
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleReconnect resets the retry budget and reconnects. An optional body
// replaces the transport settings.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var settings *transport.Settings

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	if len(body) > 0 {
		var next transport.Settings
		if err := json.Unmarshal(body, &next); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		if next.Kind() == transport.KindNone {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, transport.ErrNotConfigured.Error())
			return
		}
		settings = &next
	}

	if err := s.driver.Reconnect(r.Context(), settings); err != nil {
		writeDriverError(w, err)
		return
	}
	s.logger.Info("transport reconnect requested", "settings_changed", settings != nil)
	var details map[string]any
	if settings != nil {
		details = map[string]any{"kind": settings.Kind(), "settings": settings}
	}
	s.auditLog(r, audit.ActionReconnect, audit.EntityTransport, "", details)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

// handleFlashHistory lists recent firmware updates.
func (s *Server) handleFlashHistory(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeUnavailable(w, "device store not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	jobs, err := s.devices.FlashJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list flash jobs", "error", err)
		writeInternalError(w, "failed to list flash jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}
