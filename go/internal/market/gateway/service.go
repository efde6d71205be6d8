package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

// Service lets real browsers join the walls: it relays the shared store over
// WebSockets and exposes health and metrics.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	health            *GatewayHealthChecker
	exporter          *PrometheusExporter
	counters          *Counters
	allowedOrigins    []string
}

type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"*"},
	}
}

// NewService builds the gateway. store is the gateway's own handle, used for
// health checks and state listing; open creates one handle per browser context.
func NewService(config Config, store sharedstore.Store, open StoreOpener, clock clockwork.Clock) (*Service, error) {
	validator, err := NewFrameValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create frame validator: %w", err)
	}

	counters := &Counters{}
	connectionManager := NewConnectionManager(config.ConnectionConfig, open, validator, clock)
	connectionManager.SetMetrics(counters)

	health := NewGatewayHealthChecker(connectionManager, store, counters)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, store),
		health:            health,
		exporter:          NewPrometheusExporter(health),
		counters:          counters,
		allowedOrigins:    config.AllowedOrigins,
	}, nil
}

// Router returns the HTTP routes behind CORS.
func (s *Service) Router() http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/ws/signals", s.wsHandler.HandleSignals)
	router.Get("/ws/stats", s.wsHandler.HandleConnectionStats)
	router.Get("/state", s.wsHandler.HandleState)
	router.Method(http.MethodGet, "/health", s.health)
	router.Method(http.MethodGet, "/metrics", s.exporter)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: s.allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(router)
}

// Handler serves Router over HTTP/1.1 and cleartext HTTP/2.
func (s *Service) Handler() http.Handler {
	return h2c.NewHandler(s.Router(), &http2.Server{})
}

// Run serves until ctx is done, then disconnects every context.
func (s *Service) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// hijacked WebSockets are not covered by Shutdown
	s.connectionManager.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	log.Info().Msg("gateway stopped")
	return nil
}

func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

func (s *Service) Counters() CounterSnapshot {
	return s.counters.Snapshot()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
