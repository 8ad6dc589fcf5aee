package api

import "time"

// DocumentResponse is returned for document reads and writes.
type DocumentResponse struct {
	ID      uint64 `json:"id"`
	Content string `json:"content,omitempty"`
	KeyID   uint32 `json:"key_id,omitempty"`
}

// DocumentRequest carries document content for create and update.
type DocumentRequest struct {
	Content string `json:"content"`
}

// RotateRequest optionally names a pre-generated pending key. When
// TargetKeyID is zero the server generates a fresh key.
type RotateRequest struct {
	TargetKeyID uint32 `json:"target_key_id,omitempty"`
}

// RotateResponse reports the admitted rotation.
type RotateResponse struct {
	RotationID  string `json:"rotation_id"`
	TargetKeyID uint32 `json:"target_key_id"`
	State       string `json:"state"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	Uptime        string    `json:"uptime"`
	RotationState string    `json:"rotation_state"`
	Documents     uint64    `json:"documents"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
