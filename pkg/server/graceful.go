package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/logging"
)

// ShutdownHook runs after the HTTP server has drained. Hooks close the
// document store and keyring so no in-flight write races the close.
type ShutdownHook func() error

// GracefulServer wraps an HTTP server with graceful shutdown.
type GracefulServer struct {
	server          *http.Server
	log             logging.Logger
	shutdownTimeout time.Duration
	shutdownCh      chan struct{}
	doneCh          chan struct{}
	shutdownOnce    sync.Once
	hooksMu         sync.Mutex
	hooks           []ShutdownHook
}

// NewGracefulServer creates a new graceful HTTP server.
func NewGracefulServer(addr string, handler http.Handler, shutdownTimeout time.Duration, log logging.Logger) *GracefulServer {
	if log == nil {
		log = logging.DefaultLogger()
	}
	return &GracefulServer{
		server: &http.Server{
			Addr:           addr,
			Handler:        handler,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		log:             log.With(logging.Component("server")),
		shutdownTimeout: shutdownTimeout,
		shutdownCh:      make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// OnShutdown registers a hook to run after the listener has drained.
// Hooks run in registration order.
func (gs *GracefulServer) OnShutdown(hook ShutdownHook) {
	gs.hooksMu.Lock()
	defer gs.hooksMu.Unlock()
	gs.hooks = append(gs.hooks, hook)
}

// Start serves until a shutdown signal arrives or ListenAndServe fails.
func (gs *GracefulServer) Start() error {
	go gs.handleSignals()

	gs.log.Info("HTTP server starting", logging.String("addr", gs.server.Addr))
	if err := gs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	// The listener closes as soon as Shutdown begins draining; wait for
	// the hooks to finish so callers don't exit with the store and
	// keyring still open.
	<-gs.doneCh
	return nil
}

// Shutdown drains in-flight requests, then runs the shutdown hooks.
func (gs *GracefulServer) Shutdown() error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), gs.shutdownTimeout)
		defer cancel()

		gs.log.Info("graceful shutdown initiated",
			logging.Duration("timeout", gs.shutdownTimeout))

		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.log.Error("shutdown error", logging.Error(shutdownErr))
		}

		gs.hooksMu.Lock()
		hooks := gs.hooks
		gs.hooksMu.Unlock()
		for _, hook := range hooks {
			if hookErr := hook(); hookErr != nil {
				gs.log.Error("shutdown hook failed", logging.Error(hookErr))
				if err == nil {
					err = hookErr
				}
			}
		}

		gs.log.Info("shutdown complete")
		close(gs.doneCh)
	})
	return err
}

func (gs *GracefulServer) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	gs.log.Info("shutdown signal received", logging.String("signal", sig.String()))
	gs.Shutdown()
}

// IsShuttingDown reports whether shutdown has been initiated.
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel closes when shutdown is initiated.
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}
