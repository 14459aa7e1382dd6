package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-arduino/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// Health and login stay public. Everything else passes authMiddleware and
// a per-route permission check, both of which are no-ops when auth is off.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStatusRead))
				r.Get("/metrics", s.handleMetrics)
				r.Get("/status", s.handleStatus)
				r.Get("/devices", s.handleListDevices)
				r.Get("/config", s.handleConfigMenu)
				r.Get("/flash/history", s.handleFlashHistory)
				r.Get("/ws", s.handleWebSocket)
			})

			r.With(s.requirePermission(auth.PermDeviceWrite)).
				Post("/devices/{guid}/write", s.handleWriteDevice)
			r.With(s.requirePermission(auth.PermDeviceWrite)).
				Delete("/devices/{guid}", s.handleForgetDevice)
			r.With(s.requirePermission(auth.PermTransportWrite)).
				Post("/transport/reconnect", s.handleReconnect)
			r.With(s.requirePermission(auth.PermFirmware)).
				Post("/config", s.handleConfigRPC)
			r.With(s.requirePermission(auth.PermAuditRead)).
				Get("/audit", s.handleListAudit)
		})
	})

	return r
}
