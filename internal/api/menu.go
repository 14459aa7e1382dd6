package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-arduino/internal/audit"
	"github.com/nerrad567/gray-logic-arduino/internal/bridges/arduino"
)

// ConfigRequest is the body of POST /config.
type ConfigRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// handleConfigMenu returns the welcome menu.
func (s *Server) handleConfigMenu(w http.ResponseWriter, r *http.Request) {
	s.runMenu(w, r, ConfigRequest{Method: arduino.MethodMenu})
}

// handleConfigRPC runs one config menu method.
func (s *Server) handleConfigRPC(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Method == "" {
		writeBadRequest(w, "method is required")
		return
	}
	if s.runMenu(w, r, req) {
		s.auditLog(r, audit.ActionConfig, audit.EntityMenu, req.Method, paramsDetails(req.Params))
	}
}

// paramsDetails keeps params readable in the audit log.
func paramsDetails(params json.RawMessage) map[string]any {
	if len(params) == 0 {
		return nil
	}
	return map[string]any{"params": params}
}

// runMenu writes the menu response and reports whether the call succeeded.
func (s *Server) runMenu(w http.ResponseWriter, r *http.Request, req ConfigRequest) bool {
	if s.menu == nil {
		writeUnavailable(w, "config menu not configured")
		return false
	}

	menu, err := s.menu.Handle(r.Context(), req.Method, req.Params)
	if err != nil {
		writeDriverError(w, err)
		return false
	}
	writeJSON(w, http.StatusOK, menu)
	return true
}
