package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/audit"
	"github.com/dd0wney/cluso-docstore/pkg/auth"
	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/metrics"
	"github.com/dd0wney/cluso-docstore/pkg/rotation"
	"github.com/dd0wney/cluso-docstore/pkg/storage"
)

const maxDocumentBytes = 10 * 1024 * 1024

// Config carries the server's collaborators. Store, Keys, and Rotator
// are required; the rest default to no-op or fresh instances.
type Config struct {
	Store      *storage.DocumentStore
	Keys       *encryption.Keyring
	Rotator    *rotation.Rotator
	JWTManager *auth.JWTManager
	Logger     logging.Logger
	Metrics    *metrics.Registry
	Audit      *audit.Logger
	Version    string
}

// Server is the HTTP API server.
type Server struct {
	store      *storage.DocumentStore
	keys       *encryption.Keyring
	rotator    *rotation.Rotator
	jwtManager *auth.JWTManager
	log        logging.Logger
	metrics    *metrics.Registry
	audit      *audit.Logger
	startTime  time.Time
	version    string
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		store:      cfg.Store,
		keys:       cfg.Keys,
		rotator:    cfg.Rotator,
		jwtManager: cfg.JWTManager,
		log:        log.With(logging.Component("api")),
		metrics:    cfg.Metrics,
		audit:      cfg.Audit,
		startTime:  time.Now(),
		version:    version,
	}
}

// Handler builds the full route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocument) // /documents/{id}

	mux.HandleFunc("/admin/rotate", s.requireAdmin(s.handleRotate))
	mux.HandleFunc("/admin/rotation/status", s.requireAdmin(s.handleRotationStatus))
	mux.HandleFunc("/admin/rotation/recover", s.requireAdmin(s.handleRotationRecover))
	mux.HandleFunc("/admin/rotation/reset", s.requireAdmin(s.handleRotationReset))
	mux.HandleFunc("/admin/keys", s.requireAdmin(s.handleListKeys))

	var handler http.Handler = mux
	handler = s.bodySizeLimitMiddleware(handler, maxDocumentBytes)
	if s.metrics != nil {
		handler = s.metricsMiddleware(handler)
	}
	handler = s.loggingMiddleware(handler)
	handler = s.panicRecoveryMiddleware(handler)

	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.rotator.Status()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "status unavailable")
		return
	}

	count, err := s.store.Count()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now(),
		Version:       s.version,
		Uptime:        time.Since(s.startTime).String(),
		RotationState: status.State,
		Documents:     count,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
