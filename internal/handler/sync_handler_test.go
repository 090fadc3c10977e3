package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"slugstate/internal/domain"
	"slugstate/internal/middleware"
	"slugstate/internal/repository"
	"slugstate/internal/service"
	"slugstate/pkg/jwt"

	"github.com/gorilla/mux"
)

const testSecret = "handler-test-secret"

type memoryStateRepository struct {
	mu     sync.Mutex
	states map[string]*domain.StoredState
}

func (m *memoryStateRepository) Get(ctx context.Context, userID, key string) (*domain.StoredState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[repository.StateDocID(userID, key)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (m *memoryStateRepository) Save(ctx context.Context, state *domain.StoredState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.states[repository.StateDocID(state.UserID, state.Key)] = &copied
	return nil
}

func (m *memoryStateRepository) Delete(ctx context.Context, state *domain.StoredState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, repository.StateDocID(state.UserID, state.Key))
	return nil
}

func (m *memoryStateRepository) List(ctx context.Context, userID string) ([]*domain.StoredState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var states []*domain.StoredState
	for _, state := range m.states {
		if state.UserID == userID {
			copied := *state
			states = append(states, &copied)
		}
	}
	return states, nil
}

func newStateRouter(maxTokenLength int) http.Handler {
	repo := &memoryStateRepository{states: make(map[string]*domain.StoredState)}
	h := NewSyncHandler(service.NewSyncService(repo, nil, maxTokenLength))

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(testSecret))
	api.HandleFunc("/state", h.GetManifest).Methods("GET")
	api.HandleFunc("/state/{key:.+}", h.GetState).Methods("GET")
	api.HandleFunc("/state/{key:.+}", h.PutState).Methods("PUT")
	api.HandleFunc("/state/{key:.+}", h.DeleteState).Methods("DELETE")
	return r
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func call(t *testing.T, router http.Handler, method, path, token, body string) (int, apiResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, resp
}

func accessToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.GenerateToken(userID, time.Hour, testSecret)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return token
}

func TestSyncHandler_PushPullFlow(t *testing.T) {
	router := newStateRouter(0)
	token := accessToken(t, "u1")

	code, resp := call(t, router, "PUT", "/api/v1/state/settings/theme", token, `{"token":"AQAdark","expected_version":0,"device_id":"laptop"}`)
	if code != http.StatusOK {
		t.Fatalf("PUT status = %d (%s)", code, resp.Error)
	}
	var ack domain.PushAck
	json.Unmarshal(resp.Data, &ack)
	if !ack.Accepted || ack.Version != 1 {
		t.Errorf("unexpected ack %+v", ack)
	}

	code, resp = call(t, router, "GET", "/api/v1/state/settings/theme", token, "")
	if code != http.StatusOK {
		t.Fatalf("GET status = %d", code)
	}
	var state domain.RemoteState
	json.Unmarshal(resp.Data, &state)
	if state.Key != "settings/theme" || state.Token != "AQAdark" || state.Version != 1 {
		t.Errorf("unexpected state %+v", state)
	}

	code, resp = call(t, router, "PUT", "/api/v1/state/settings/theme", token, `{"token":"AQAlight","expected_version":0}`)
	if code != http.StatusConflict {
		t.Fatalf("stale PUT status = %d, want 409", code)
	}
	json.Unmarshal(resp.Data, &ack)
	if ack.Accepted || ack.Current == nil || ack.Current.Token != "AQAdark" {
		t.Errorf("conflict ack should carry current state, got %+v", ack)
	}

	code, resp = call(t, router, "GET", "/api/v1/state", token, "")
	if code != http.StatusOK {
		t.Fatalf("manifest status = %d", code)
	}
	var manifest domain.Manifest
	json.Unmarshal(resp.Data, &manifest)
	if len(manifest.Entries) != 1 || manifest.Entries[0].Key != "settings/theme" {
		t.Errorf("unexpected manifest %+v", manifest)
	}

	if code, _ := call(t, router, "DELETE", "/api/v1/state/settings/theme", token, ""); code != http.StatusOK {
		t.Errorf("DELETE status = %d", code)
	}
	if code, _ := call(t, router, "GET", "/api/v1/state/settings/theme", token, ""); code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", code)
	}
}

func TestSyncHandler_Errors(t *testing.T) {
	router := newStateRouter(8)
	token := accessToken(t, "u1")
	refresh, _ := jwt.GenerateRefreshToken("u1", time.Hour, testSecret)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"missing token", "GET", "/api/v1/state", "", "", http.StatusUnauthorized},
		{"refresh token rejected", "GET", "/api/v1/state", refresh, "", http.StatusUnauthorized},
		{"unknown key", "GET", "/api/v1/state/nope", token, "", http.StatusNotFound},
		{"malformed body", "PUT", "/api/v1/state/k", token, "{", http.StatusBadRequest},
		{"missing token field", "PUT", "/api/v1/state/k", token, `{"expected_version":0}`, http.StatusBadRequest},
		{"negative version", "PUT", "/api/v1/state/k", token, `{"token":"AQA","expected_version":-1}`, http.StatusBadRequest},
		{"token too large", "PUT", "/api/v1/state/k", token, `{"token":"AQAAAAAAAAAAA"}`, http.StatusRequestEntityTooLarge},
		{"key too long", "GET", "/api/v1/state/" + strings.Repeat("k", maxKeyLength+1), token, "", http.StatusBadRequest},
		{"delete unknown key", "DELETE", "/api/v1/state/nope", token, "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := call(t, router, tt.method, tt.path, tt.token, tt.body)
			if code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestSyncHandler_KeysAreScopedPerUser(t *testing.T) {
	router := newStateRouter(0)

	call(t, router, "PUT", "/api/v1/state/k", accessToken(t, "alice"), `{"token":"AQAalice"}`)

	if code, _ := call(t, router, "GET", "/api/v1/state/k", accessToken(t, "bob"), ""); code != http.StatusNotFound {
		t.Errorf("other user's key visible, status = %d", code)
	}
}
