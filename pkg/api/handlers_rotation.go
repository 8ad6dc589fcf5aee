package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dd0wney/cluso-docstore/pkg/audit"
	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/rotation"
)

// handleRotate handles POST /admin/rotate. The rotation runs
// synchronously: the response reports the final state.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	targetKeyID := req.TargetKeyID
	if targetKeyID == 0 {
		id, err := s.keys.GenerateKey()
		if err != nil {
			s.log.Error("key generation failed", logging.Error(err))
			s.respondError(w, http.StatusInternalServerError, "failed to generate key")
			return
		}
		if s.audit != nil {
			s.audit.Record(audit.Event{
				Action: audit.ActionKeyGenerated,
				Status: audit.StatusSuccess,
				KeyID:  id,
			})
		}
		targetKeyID = id
	}

	rotationID, err := s.rotator.RotateKey(targetKeyID)
	if err != nil {
		switch {
		case errors.Is(err, rotation.ErrRotationInProgress):
			s.respondError(w, http.StatusConflict, "a rotation is already in progress")
		case errors.Is(err, encryption.ErrKeyNotPending), errors.Is(err, encryption.ErrKeyNotFound):
			s.respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error("rotation failed",
				logging.RotationID(rotationID),
				logging.Error(err))
			s.respondError(w, http.StatusInternalServerError, "rotation failed: "+err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusOK, RotateResponse{
		RotationID:  rotationID,
		TargetKeyID: targetKeyID,
		State:       rotation.StateIdle.String(),
	})
}

// handleRotationStatus handles GET /admin/rotation/status.
func (s *Server) handleRotationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, err := s.rotator.Status()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// handleRotationRecover handles POST /admin/rotation/recover.
func (s *Server) handleRotationRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.rotator.Recover(); err != nil {
		var fatal *rotation.FatalStateError
		if errors.As(err, &fatal) {
			s.respondError(w, http.StatusConflict, fatal.Error())
			return
		}
		s.log.Error("recovery failed", logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "recovery failed: "+err.Error())
		return
	}

	status, err := s.rotator.Status()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// handleRotationReset handles POST /admin/rotation/reset.
func (s *Server) handleRotationReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.rotator.Reset(); err != nil {
		if errors.Is(err, rotation.ErrRotationNotFailed) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, "reset failed: "+err.Error())
		return
	}

	status, err := s.rotator.Status()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// handleListKeys handles GET /admin/keys.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.keys.ListKeys())
}
