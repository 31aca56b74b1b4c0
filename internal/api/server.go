package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/deadletter"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/config"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every probed component
// (*mqtt.Client, *influxdb.Client, *database.DB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DeadLetterReader is the read side of the dead-letter journal.
// *deadletter.SQLiteRepository satisfies it.
type DeadLetterReader interface {
	GetByID(ctx context.Context, id string) (*deadletter.Entry, error)
	List(ctx context.Context, limit int) ([]deadletter.Entry, error)
	Count(ctx context.Context) (int, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger

	// MQTT decides overall health: without a broker nothing is ingested.
	MQTT HealthChecker

	// Optional probes and data sources.
	InfluxDB    HealthChecker
	Database    HealthChecker
	DeadLetters DeadLetterReader
	Gatherer    prometheus.Gatherer

	// QueueDepth reports messages waiting between the broker and the loop.
	QueueDepth func() int

	Version string
}

// Server is the HTTP status server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	mqtt        HealthChecker
	influx      HealthChecker
	db          HealthChecker
	deadLetters DeadLetterReader
	gatherer    prometheus.Gatherer
	queueDepth  func() int
	version     string
	startTime   time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, MQTT probe)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.MQTT == nil {
		return nil, fmt.Errorf("mqtt health checker is required")
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		mqtt:        deps.MQTT,
		influx:      deps.InfluxDB,
		db:          deps.Database,
		deadLetters: deps.DeadLetters,
		gatherer:    deps.Gatherer,
		queueDepth:  deps.QueueDepth,
		version:     deps.Version,
		startTime:   time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// Binding errors (port in use, etc.) are returned directly.
//
// Parameters:
//   - ctx: Context for cancellation of the bind
//
// Returns:
//   - error: If the listener cannot be created
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
