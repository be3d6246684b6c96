// Package api serves the latest run report, step logs and run history over
// HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethpandaops/hwci/pkg/config"
	"github.com/ethpandaops/hwci/pkg/history"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error

	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	reportPath string
	htmlPath   string
	files      *localFileServer
	outputDirs []string
	history    history.Store
	historyCfg *config.HistoryConfig
	limiter    *rateLimiterMap
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server over the results and build
// directories of cfg.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	s := newServer(log, cfg)

	if cfg.Runner.History.Enabled {
		s.historyCfg = &cfg.Runner.History
	}

	return s
}

func newServer(log logrus.FieldLogger, cfg *config.Config) *server {
	log = log.WithField("component", "api")

	outputDirs := make([]string, 0, len(cfg.Configurations))
	for _, cc := range cfg.Configurations {
		outputDirs = append(outputDirs, cfg.OutputDir(cc.Name))
	}

	return &server{
		log:        log,
		cfg:        &cfg.Runner.API,
		reportPath: filepath.Join(cfg.Runner.ResultsDir, cfg.Runner.Report.JSON),
		htmlPath:   filepath.Join(cfg.Runner.ResultsDir, cfg.Runner.Report.HTML),
		files:      newLocalFileServer(log, cfg.Runner.ResultsDir),
		outputDirs: outputDirs,
		done:       make(chan struct{}),
	}
}

// Start opens the history store when enabled and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if s.historyCfg != nil {
		s.history = history.NewStore(s.log, s.historyCfg)
		if err := s.history.Start(ctx); err != nil {
			return fmt.Errorf("starting history store: %w", err)
		}
	}

	if s.cfg.RateLimit.Enabled {
		s.limiter = newRateLimiterMap(s.cfg.RateLimit.RequestsPerMinute)

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			s.limiter.cleanup(s.done)
		}()
	}

	s.httpServer = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.listener = ln

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the history store.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.history != nil {
		if err := s.history.Stop(); err != nil {
			return fmt.Errorf("stopping history store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

func (s *server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}
