package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brokerpilot/core/internal/audit"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID)
	r.Use(s.withLogging)
	r.Use(s.withRecovery)
	r.Use(s.withCORS)
	r.Use(s.withBodyLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Get("/brokers", s.handleListBrokers)
		r.Get("/queue", s.handleQueueDepth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Post("/brokers/unavailable", s.handleMarkBrokerUnavailable)
			r.Post("/brokers/restore", s.handleRestoreBroker)

			r.Get("/audit", s.handleListAudit)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleListBrokers returns a snapshot of the registry: every candidate
// broker's last-measured metrics, score, and availability.
func (s *Server) handleListBrokers(w http.ResponseWriter, _ *http.Request) {
	brokers := s.manager.GetBrokerStats()
	current, hasCurrent := s.manager.GetCurrentBrokerURI()

	out := make([]map[string]any, len(brokers))
	for i, b := range brokers {
		out[i] = map[string]any{
			"uri":              b.URI,
			"latency_ms":       b.LatencyMS,
			"bandwidth_bps":    b.BandwidthBPS,
			"connection_count": b.ConnectionCount,
			"score":            b.Score,
			"available":        b.Available,
			"last_check":       b.LastCheck,
			"current":          hasCurrent && b.URI == current,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"brokers":          out,
		"current_broker":   current,
		"connected":        s.manager.IsConnected(),
		"connection_state": s.manager.State().String(),
	})
}

// handleQueueDepth returns the offline queue's current message count.
func (s *Server) handleQueueDepth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"depth": s.manager.GetQueuedMessageCount(),
	})
}

// brokerURIRequest is the request body for the manual override endpoints.
type brokerURIRequest struct {
	URI string `json:"uri"`
}

// handleMarkBrokerUnavailable forces a candidate broker out of the pool.
func (s *Server) handleMarkBrokerUnavailable(w http.ResponseWriter, r *http.Request) {
	var req brokerURIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URI == "" {
		writeBadRequest(w, "uri field is required")
		return
	}
	s.manager.MarkBrokerUnavailable(req.URI)
	writeJSON(w, http.StatusOK, map[string]any{"uri": req.URI, "available": false})
}

// handleRestoreBroker clears a manual or measured unavailability.
func (s *Server) handleRestoreBroker(w http.ResponseWriter, r *http.Request) {
	var req brokerURIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URI == "" {
		writeBadRequest(w, "uri field is required")
		return
	}
	s.manager.RestoreBroker(req.URI)
	writeJSON(w, http.StatusOK, map[string]any{"uri": req.URI, "available": true})
}

// handleListAudit returns recent broker-lifecycle audit entries (swaps,
// unavailability, queue drops), newest first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		EntityID: q.Get("uri"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
