package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/storage"
)

// handleDocuments handles POST /documents (create).
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// The gate is held across the whole write so a rotation admitted
	// concurrently cannot snapshot the store between our active-key read
	// and the Put.
	if !s.rotator.AcquireWrite() {
		s.respondError(w, http.StatusServiceUnavailable, "key rotation in progress, writes are paused")
		return
	}
	defer s.rotator.ReleaseWrite()

	var req DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	id, err := s.store.NextID()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to allocate document id")
		return
	}

	if err := s.writeDocument(id, []byte(req.Content)); err != nil {
		s.log.Error("document write failed", logging.DocumentID(id), logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	s.respondJSON(w, http.StatusCreated, DocumentResponse{ID: id, KeyID: s.keys.ActiveKeyID()})
}

// handleDocument handles GET and PUT /documents/{id}.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.extractDocumentID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getDocument(w, id)
	case http.MethodPut:
		s.putDocument(w, r, id)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) getDocument(w http.ResponseWriter, id uint64) {
	start := time.Now()

	env, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.log.Error("document read failed", logging.DocumentID(id), logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read document")
		return
	}

	compressed, err := s.keys.Decrypt(env)
	if err != nil {
		s.log.Error("document decrypt failed", logging.DocumentID(id), logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to decrypt document")
		return
	}

	plaintext, err := storage.Decompress(compressed)
	if err != nil {
		s.log.Error("document decompress failed", logging.DocumentID(id), logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to decode document")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordStorageOperation("get", "success", time.Since(start))
	}
	s.respondJSON(w, http.StatusOK, DocumentResponse{ID: id, Content: string(plaintext), KeyID: env.KeyID})
}

func (s *Server) putDocument(w http.ResponseWriter, r *http.Request, id uint64) {
	if !s.rotator.AcquireWrite() {
		s.respondError(w, http.StatusServiceUnavailable, "key rotation in progress, writes are paused")
		return
	}
	defer s.rotator.ReleaseWrite()

	var req DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := s.writeDocument(id, []byte(req.Content)); err != nil {
		s.log.Error("document write failed", logging.DocumentID(id), logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	s.respondJSON(w, http.StatusOK, DocumentResponse{ID: id, KeyID: s.keys.ActiveKeyID()})
}

// writeDocument compresses, encrypts under the active key, and stores.
func (s *Server) writeDocument(id uint64, plaintext []byte) error {
	start := time.Now()

	env, err := s.keys.Encrypt(storage.Compress(plaintext), s.keys.ActiveKeyID())
	if err != nil {
		return err
	}
	if err := s.store.Put(id, env); err != nil {
		if s.metrics != nil {
			s.metrics.RecordStorageOperation("put", "error", time.Since(start))
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordStorageOperation("put", "success", time.Since(start))
		if count, err := s.store.Count(); err == nil {
			s.metrics.SetStorageDocumentsTotal(count)
		}
	}
	return nil
}

func (s *Server) extractDocumentID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	const prefix = "/documents/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		s.respondError(w, http.StatusBadRequest, "Invalid path")
		return 0, false
	}
	idStr := strings.TrimSuffix(r.URL.Path[len(prefix):], "/")

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid ID format")
		return 0, false
	}
	return id, true
}
