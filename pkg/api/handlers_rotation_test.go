package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dd0wney/cluso-docstore/pkg/audit"
	"github.com/dd0wney/cluso-docstore/pkg/auth"
	"github.com/dd0wney/cluso-docstore/pkg/rotation"
)

func doAdmin(t *testing.T, s *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRotateEndToEnd(t *testing.T) {
	server := setupTestServer(t)
	token := adminToken(t, server)

	ids := make([]uint64, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, createDocument(t, server, fmt.Sprintf("document %d", i)))
	}

	oldKeyID := server.keys.ActiveKeyID()

	rr := doAdmin(t, server, http.MethodPost, "/admin/rotate", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate failed: status %d, body %s", rr.Code, rr.Body.String())
	}
	var resp RotateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.RotationID == "" {
		t.Error("empty rotation id")
	}
	if resp.TargetKeyID == oldKeyID {
		t.Error("target key should differ from old active key")
	}
	if server.keys.ActiveKeyID() != resp.TargetKeyID {
		t.Errorf("active key = %d, want %d", server.keys.ActiveKeyID(), resp.TargetKeyID)
	}

	// Old key must be unusable and all documents readable under the new key
	if status, err := server.keys.KeyStatusOf(oldKeyID); err != nil || status != "revoked" {
		t.Errorf("old key status = %v (%v), want revoked", status, err)
	}
	for _, id := range ids {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/documents/%d", id), nil)
		get := httptest.NewRecorder()
		server.handleDocument(get, req)
		if get.Code != http.StatusOK {
			t.Errorf("document %d unreadable after rotation: %d", id, get.Code)
		}
	}
}

func TestRotateWithExplicitPendingKey(t *testing.T) {
	server := setupTestServer(t)
	token := adminToken(t, server)
	createDocument(t, server, "doc")

	pending, err := server.keys.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	body, _ := json.Marshal(RotateRequest{TargetKeyID: pending})
	rr := doAdmin(t, server, http.MethodPost, "/admin/rotate", token, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate failed: status %d, body %s", rr.Code, rr.Body.String())
	}
	if server.keys.ActiveKeyID() != pending {
		t.Errorf("active key = %d, want %d", server.keys.ActiveKeyID(), pending)
	}
}

func TestRotateRejectsNonPendingTarget(t *testing.T) {
	server := setupTestServer(t)
	token := adminToken(t, server)

	body, _ := json.Marshal(RotateRequest{TargetKeyID: server.keys.ActiveKeyID()})
	rr := doAdmin(t, server, http.MethodPost, "/admin/rotate", token, body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d. Body: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}
}

func TestRotationStatusIdle(t *testing.T) {
	server := setupTestServer(t)
	token := adminToken(t, server)

	rr := doAdmin(t, server, http.MethodGet, "/admin/rotation/status", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status endpoint failed: %d", rr.Code)
	}
	var status rotation.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if status.State != "idle" {
		t.Errorf("State = %q, want idle", status.State)
	}
}

func TestRecoverWhenIdle(t *testing.T) {
	server := setupTestServer(t)
	token := adminToken(t, server)

	rr := doAdmin(t, server, http.MethodPost, "/admin/rotation/recover", token, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("recover on idle state: status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestResetWhenNotFailed(t *testing.T) {
	server := setupTestServer(t)
	token := adminToken(t, server)

	rr := doAdmin(t, server, http.MethodPost, "/admin/rotation/reset", token, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("reset on idle state: status %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	server := setupTestServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/admin/rotate"},
		{http.MethodGet, "/admin/rotation/status"},
		{http.MethodPost, "/admin/rotation/recover"},
		{http.MethodPost, "/admin/rotation/reset"},
		{http.MethodGet, "/admin/keys"},
	}

	for _, p := range paths {
		t.Run(p.path, func(t *testing.T) {
			rr := doAdmin(t, server, p.method, p.path, "", nil)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAdminEndpointsRejectViewer(t *testing.T) {
	server := setupTestServer(t)

	token, err := server.jwtManager.GenerateToken("reader", auth.RoleViewer)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	rr := doAdmin(t, server, http.MethodPost, "/admin/rotate", token, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestListKeys(t *testing.T) {
	server := setupTestServer(t)
	token := adminToken(t, server)

	rr := doAdmin(t, server, http.MethodGet, "/admin/keys", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var keys []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &keys); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("got %d keys, want 1", len(keys))
	}
}

func TestRotateRecordsKeyGeneration(t *testing.T) {
	server := setupTestServer(t)
	token := adminToken(t, server)

	rr := doAdmin(t, server, http.MethodPost, "/admin/rotate", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate failed: status %d, body %s", rr.Code, rr.Body.String())
	}

	events := server.audit.EventsByAction(audit.ActionKeyGenerated)
	if len(events) != 1 {
		t.Fatalf("key_generated events = %d, want 1", len(events))
	}
	if events[0].KeyID == 0 {
		t.Error("key_generated event has no key id")
	}
}
