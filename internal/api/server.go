package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/CovCube/server/internal/audit"
	"github.com/CovCube/server/internal/auth"
	"github.com/CovCube/server/internal/catalog"
	"github.com/CovCube/server/internal/cube"
	"github.com/CovCube/server/internal/infrastructure/config"
	"github.com/CovCube/server/internal/infrastructure/logging"
	"github.com/CovCube/server/internal/provisioning"
	"github.com/CovCube/server/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CubeSubscriptions drops telemetry routing for deleted cubes.
// *telemetry.Router satisfies it.
type CubeSubscriptions interface {
	UnsubscribeCube(cubeID string) error
}

// HealthChecker is a component reported by GET /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Registry    *cube.Registry
	Catalog     *catalog.Store
	Telemetry   *telemetry.Store
	Provisioner *provisioning.Provisioner
	Tokens      auth.TokenRepository
	Audit       audit.Repository
	Subs        CubeSubscriptions
	Health      map[string]HealthChecker
	Version     string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	registry    *cube.Registry
	catalog     *catalog.Store
	telemetry   *telemetry.Store
	provisioner *provisioning.Provisioner
	tokens      auth.TokenRepository
	audit       audit.Repository
	subs        CubeSubscriptions
	health      map[string]HealthChecker
	version     string
	validate    *validator.Validate
	server      *http.Server
	listener    net.Listener
	hub         *Hub
	cancel      context.CancelFunc
	serveErr    chan error
}

// New creates a new API server with the given dependencies.
//
// The hub is created here and fed by registry and telemetry listeners, so
// events are broadcast as soon as the server is started.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("cube registry is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry store is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token repository is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		registry:    deps.Registry,
		catalog:     deps.Catalog,
		telemetry:   deps.Telemetry,
		provisioner: deps.Provisioner,
		tokens:      deps.Tokens,
		audit:       deps.Audit,
		subs:        deps.Subs,
		health:      deps.Health,
		version:     deps.Version,
		validate:    newValidator(),
		hub:         NewHub(deps.Logger),
		serveErr:    make(chan error, 1),
	}

	s.registry.AddListener(s.broadcastCubeEvent)
	s.telemetry.AddListener(s.broadcastReading)

	return s, nil
}

// Start binds the listener and serves in a background goroutine. The
// server can be stopped with Close().
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

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
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	return nil
}

// Run starts the server and blocks until ctx is cancelled or serving fails,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-s.serveErr:
	}

	if err := s.Close(); err != nil {
		return err
	}
	return serveErr
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
