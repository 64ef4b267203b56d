// Package server hosts the TCP listener, gates admission, and runs one
// handler goroutine per accepted client.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kidxcudi/Synq/internal/bind"
	"github.com/kidxcudi/Synq/internal/config"
	"github.com/kidxcudi/Synq/internal/registry"
	"github.com/kidxcudi/Synq/internal/router"
)

// Server wires dependencies and accepts client connections.
type Server struct {
	cfg       config.Config
	log       *zap.Logger
	state     *registry.State
	binder    *bind.Manager
	router    *router.Router
	metrics   *serverMetrics
	admission *semaphore.Weighted
	adminHTTP *http.Server
	handlers  sync.WaitGroup
	ready     atomic.Bool
}

// New constructs a server with its dependencies. The registry state is
// injected so tests and the entry point share one source of truth.
func New(cfg config.Config, logger *zap.Logger, state *registry.State) *Server {
	if state == nil {
		state = registry.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		log:       logger,
		state:     state,
		binder:    bind.NewManager(state, cfg.BindWaitTimeout, logger),
		router:    router.New(state, logger),
		admission: semaphore.NewWeighted(cfg.MaxClients),
	}
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts clients from an existing listener until the context ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	s.metrics = newServerMetrics(reg, s.state)
	s.startAdminServer(reg)

	s.binder.StartSweeper(ctx, s.cfg.SweepInterval)

	s.log.Info("server listening",
		zap.String("address", lis.Addr().String()),
		zap.Int64("max_clients", s.cfg.MaxClients),
		zap.String("encryption", "AES-128-GCM over DH-2048 (MODP group 14)"))
	s.ready.Store(true)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown(lis)
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(ctx, lis)
	})
	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, lis net.Listener) error {
	for {
		raw, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		// Admission gate: beyond capacity a connection is refused before
		// any handshake work happens.
		if !s.admission.TryAcquire(1) {
			s.metrics.connRejected()
			s.log.Warn("connection rejected at capacity", zap.String("remote", raw.RemoteAddr().String()))
			_ = raw.Close()
			continue
		}

		s.metrics.connOpened()
		c := newConn(raw, s.cfg.ReadTimeout, s.log)
		c.log.Info("connection accepted", zap.Int("users_online", s.state.UserCount()))
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConn(c)
		}()
	}
}

func (s *Server) startAdminServer(reg *prometheus.Registry) {
	if s.cfg.AdminAddress == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:    s.cfg.AdminAddress,
		Handler: mux,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.AdminAddress))
}

// shutdown closes the listener and every open client stream; in-flight
// reads then fail fast and each handler unwinds through its own cleanup.
func (s *Server) shutdown(lis net.Listener) {
	s.ready.Store(false)
	s.log.Info("shutting down", zap.String("status", s.Status()))

	_ = lis.Close()

	if s.adminHTTP != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		if err := s.adminHTTP.Shutdown(stopCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}

	s.state.Shutdown()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("all connections closed")
	case <-time.After(s.cfg.ShutdownGracePeriod):
		s.log.Warn("handlers still running after grace period")
	}
}

// Status summarizes current load for logs.
func (s *Server) Status() string {
	return fmt.Sprintf("users=%d binds=%d", s.state.UserCount(), s.state.PairCount())
}
