package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-arduino/internal/audit"
)

// auditChanSize bounds queued audit writes. Entries beyond it are dropped
// so a slow disk never blocks a request.
const auditChanSize = 256

// auditLog queues an entry for the request's caller.
func (s *Server) auditLog(r *http.Request, action, entityType, entityID string, details map[string]any) {
	s.auditEntry(audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor(r),
		Details:    details,
	})
}

func (s *Server) auditEntry(e audit.Entry) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}
	e.Source = "api"

	select {
	case s.auditCh <- &e:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", e.Action,
			"entity_type", e.EntityType,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	defer close(s.auditDone)
	for {
		select {
		case e := <-s.auditCh:
			s.writeAudit(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.auditCh:
					s.writeAudit(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(e *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), e); err != nil {
		s.logger.Error("audit log write failed",
			"action", e.Action,
			"entity_type", e.EntityType,
			"error", err,
		)
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters: action, entity_type, entity_id, actor, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Actor:      q.Get("actor"),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = n
	}

	res, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit log", "error", err)
		writeInternalError(w, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
