package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-arduino/internal/audit"
	"github.com/nerrad567/gray-logic-arduino/internal/auth"
	"github.com/nerrad567/gray-logic-arduino/internal/bridges/arduino"
	"github.com/nerrad567/gray-logic-arduino/internal/device"
	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the part of the driver the API drives. *arduino.Driver
// satisfies it.
type Controller interface {
	Snapshot(ctx context.Context) (arduino.Snapshot, error)
	Handles(ctx context.Context) ([]arduino.Handle, error)
	WriteGUID(ctx context.Context, guid string, payload any) error
	Reconnect(ctx context.Context, settings *transport.Settings) error
}

// Menu answers config menu RPCs. *arduino.ConfigMenu satisfies it.
type Menu interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (arduino.Menu, error)
}

// KnownDevices lists stored devices and flash jobs. *device.Registry
// satisfies it.
type KnownDevices interface {
	ListDevices() []device.KnownDevice
	Forget(ctx context.Context, guid string) error
	FlashJobs(ctx context.Context, limit int) ([]device.FlashJob, error)
}

// MQTTStatus reports broker connectivity.
type MQTTStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Driver  Controller
	Menu    Menu                // optional: config endpoints return 503 without it
	Devices KnownDevices        // optional
	MQTT    MQTTStatus          // optional
	DB      *sql.DB             // optional: pool stats in /metrics
	Hub     *Hub                // If set, the server uses this hub instead of creating its own
	Auth    *auth.Authenticator // optional: nil leaves the API open
	Audit   audit.Repository    // optional
	Version string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	driver    Controller
	menu      Menu
	devices   KnownDevices
	mqtt      MQTTStatus
	db        *sql.DB
	auth      *auth.Authenticator
	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	auditDone chan struct{}
	stopAudit context.CancelFunc
	version   string
	startTime time.Time

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Driver == nil {
		return nil, fmt.Errorf("driver is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		driver:    deps.Driver,
		menu:      deps.Menu,
		devices:   deps.Devices,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		auth:      deps.Auth,
		auditRepo: deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
	}

	// The hub is usually created before the driver so it can be added as
	// an event sink.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected), binds the listener and
// serves in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
		s.auditDone = make(chan struct{})
		// Outlives srvCtx so entries queued during Shutdown are still written.
		var auditCtx context.Context
		auditCtx, s.stopAudit = context.WithCancel(context.Background())
		go s.drainAuditLog(auditCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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
	err := s.server.Shutdown(ctx)
	if s.stopAudit != nil {
		s.stopAudit()
		<-s.auditDone
	}
	if err != nil {
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
