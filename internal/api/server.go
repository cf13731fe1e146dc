package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/overlay-core/internal/announce"
	"github.com/nerrad567/overlay-core/internal/infrastructure/config"
	"github.com/nerrad567/overlay-core/internal/infrastructure/database"
	"github.com/nerrad567/overlay-core/internal/infrastructure/logging"
	"github.com/nerrad567/overlay-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/overlay-core/internal/mirror"
	"github.com/nerrad567/overlay-core/internal/overlay"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	defaultAnnounceTimeout = 5 * time.Second

	// commandQueueSize bounds commands waiting for the writer goroutine.
	commandQueueSize = 64
)

// Telemetry records command outcomes. *influxdb.Client implements it.
type Telemetry interface {
	RecordCommand(kind, outcome string, elapsed time.Duration)
	RecordPublish(sceneID string, layers int)
}

// CommandBroker is the MQTT side channel for commands. *mqtt.Client
// implements it.
type CommandBroker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	UI       config.UIConfig
	Logger   *logging.Logger
	Registry *overlay.Registry
	Slot     *announce.Slot

	// Resolver looks up announcements. Nil disables show-announcement.
	Resolver        announce.Resolver
	AnnounceTimeout time.Duration

	// Optional.
	DB        *database.DB
	MQTT      CommandBroker
	Mirror    *mirror.Mirror
	Telemetry Telemetry

	Version string
}

// Server is the overlay's HTTP and WebSocket server.
type Server struct {
	cfg             config.APIConfig
	wsCfg           config.WebSocketConfig
	uiCfg           config.UIConfig
	logger          *logging.Logger
	registry        *overlay.Registry
	slot            *announce.Slot
	resolver        announce.Resolver
	announceTimeout time.Duration
	db              *database.DB
	mqtt            CommandBroker
	mirror          *mirror.Mirror
	telemetry       Telemetry
	version         string

	hub         *Hub
	requests    chan request
	completions chan completion

	server    *http.Server
	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a server. Nothing runs until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("scene registry is required")
	}
	slot := deps.Slot
	if slot == nil {
		slot = announce.NewSlot()
	}
	timeout := deps.AnnounceTimeout
	if timeout <= 0 {
		timeout = defaultAnnounceTimeout
	}

	return &Server{
		cfg:             deps.Config,
		wsCfg:           deps.WS,
		uiCfg:           deps.UI,
		logger:          deps.Logger,
		registry:        deps.Registry,
		slot:            slot,
		resolver:        deps.Resolver,
		announceTimeout: timeout,
		db:              deps.DB,
		mqtt:            deps.MQTT,
		mirror:          deps.Mirror,
		telemetry:       deps.Telemetry,
		version:         deps.Version,
		hub:             NewHub(deps.Logger),
		requests:        make(chan request, commandQueueSize),
		completions:     make(chan completion),
	}, nil
}

// Start binds the HTTP listener, runs the writer goroutine, subscribes to the
// MQTT command topic when a broker is configured, and serves in the
// background. A bind failure is returned before anything else starts.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.startBackground(ctx)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// startBackground publishes the initial snapshot and starts the goroutines
// that do not depend on the listener.
func (s *Server) startBackground(ctx context.Context) {
	s.startTime = time.Now()
	s.ctx, s.cancel = context.WithCancel(ctx)

	// Seed the hub so the first session gets a snapshot.
	s.broadcast()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runCommands(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	if err := s.subscribeCommands(); err != nil {
		s.logger.Warn("MQTT command subscription failed", "error", err)
	}
}

// stopped is closed once the server has been told to stop.
func (s *Server) stopped() <-chan struct{} {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Done()
}

// Close stops the listener, the writer goroutine and pending lookups, and
// disconnects every session.
func (s *Server) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down API server: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// HealthCheck verifies the API server is running.
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

// Hub returns the session hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// subscribeCommands accepts command JSON on the broker's command topic.
func (s *Server) subscribeCommands() error {
	if s.mqtt == nil {
		return nil
	}
	topic := s.mqtt.Topics().Command()
	s.logger.Info("accepting commands over MQTT", "topic", topic)

	return s.mqtt.Subscribe(topic, 1, func(_ string, payload []byte) error {
		cmd, err := DecodeCommand(payload)
		if err != nil {
			s.recordCommand("unknown", ErrCodeBadRequest, 0)
			return err
		}
		return s.submit(s.ctx, request{cmd: cmd, source: "mqtt"})
	})
}
