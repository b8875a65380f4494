package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brokerpilot/core/internal/audit"
	"github.com/brokerpilot/core/internal/infrastructure/config"
	"github.com/brokerpilot/core/internal/infrastructure/logging"
	"github.com/brokerpilot/core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Manager     *session.Manager
	Audit       audit.Repository // optional; enables GET /api/v1/audit
	ExternalHub *Hub             // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the brokerpilot admin HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub. The
// server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	manager *session.Manager
	audit   audit.Repository
	version string
	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		manager: deps.Manager,
		audit:   deps.Audit,
		version: deps.Version,
		tickets: newTicketStore(),
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, wires Monitor callbacks
// on the session.Manager for broadcast, and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	go s.tickets.sweepLoop(srvCtx)

	s.subscribeManagerEvents()

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// subscribeManagerEvents wires the Manager's metric-update, connected, and
// connection-lost callbacks to the WebSocket hub so admin-API clients see
// the same events the Monitor and Session Manager act on internally.
func (s *Server) subscribeManagerEvents() {
	s.manager.OnMetricsUpdated(func(uri string, latencyMS, bandwidthBPS, connectionCount float64) {
		s.hub.Broadcast("broker.metrics_updated", map[string]any{
			"uri":              uri,
			"latency_ms":       latencyMS,
			"bandwidth_bps":    bandwidthBPS,
			"connection_count": connectionCount,
		})
	})
	s.manager.OnConnected(func(uri string) {
		s.hub.Broadcast("broker.connected", map[string]any{"uri": uri})
	})
	s.manager.OnConnectionLost(func(err error) {
		s.hub.Broadcast("broker.connection_lost", map[string]any{"error": err.Error()})
	})
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
