// Package transport connects the offline engine to a remote state
// server over HTTP and WebSocket.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"slugstate/internal/domain"
)

const apiPrefix = "/api/v1"

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

var ErrUnauthorized = errors.New("not logged in")

// envelope mirrors pkg/response.Response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HTTPTransport talks to the state server with bearer tokens and
// refreshes the access token once when it expires.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	onRefresh    func(accessToken string)
}

func NewHTTPTransport(baseURL string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (t *HTTPTransport) SetTokens(accessToken, refreshToken string) {
	t.mu.Lock()
	t.accessToken = accessToken
	t.refreshToken = refreshToken
	t.mu.Unlock()
}

// OnRefresh registers fn to be called with each refreshed access token.
func (t *HTTPTransport) OnRefresh(fn func(accessToken string)) {
	t.mu.Lock()
	t.onRefresh = fn
	t.mu.Unlock()
}

func (t *HTTPTransport) AccessToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accessToken
}

func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

func (t *HTTPTransport) Register(ctx context.Context, req *domain.RegisterRequest) error {
	_, err := t.do(ctx, http.MethodPost, "/auth/register", req, false)
	return err
}

// Login stores the returned token pair on the transport.
func (t *HTTPTransport) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	resp, err := t.do(ctx, http.MethodPost, "/auth/login", req, false)
	if err != nil {
		return nil, err
	}

	var login domain.LoginResponse
	if err := resp.decode(&login); err != nil {
		return nil, err
	}
	t.SetTokens(login.AccessToken, login.RefreshToken)
	return &login, nil
}

func (t *HTTPTransport) refresh(ctx context.Context) error {
	t.mu.RLock()
	refreshToken := t.refreshToken
	t.mu.RUnlock()
	if refreshToken == "" {
		return ErrUnauthorized
	}

	resp, err := t.do(ctx, http.MethodPost, "/auth/refresh", &domain.RefreshTokenRequest{RefreshToken: refreshToken}, false)
	if err != nil {
		return err
	}

	var tokens domain.TokenResponse
	if err := resp.decode(&tokens); err != nil {
		return err
	}

	t.mu.Lock()
	t.accessToken = tokens.AccessToken
	onRefresh := t.onRefresh
	t.mu.Unlock()

	if onRefresh != nil {
		onRefresh(tokens.AccessToken)
	}
	return nil
}

// Push implements the engine's RemoteTransport. A 409 is a rejected
// push, not an error.
func (t *HTTPTransport) Push(ctx context.Context, key string, req *domain.PushRequest) (*domain.PushAck, error) {
	resp, err := t.do(ctx, http.MethodPut, statePath(key), req, true)
	if err != nil && (resp == nil || resp.status != http.StatusConflict) {
		return nil, err
	}

	var ack domain.PushAck
	if err := resp.decode(&ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (t *HTTPTransport) Pull(ctx context.Context, key string) (*domain.RemoteState, bool, error) {
	resp, err := t.do(ctx, http.MethodGet, statePath(key), nil, true)
	if err != nil {
		if resp != nil && resp.status == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	var state domain.RemoteState
	if err := resp.decode(&state); err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

func (t *HTTPTransport) Delete(ctx context.Context, key string) error {
	_, err := t.do(ctx, http.MethodDelete, statePath(key), nil, true)
	return err
}

func (t *HTTPTransport) Manifest(ctx context.Context) (*domain.Manifest, error) {
	resp, err := t.do(ctx, http.MethodGet, "/state", nil, true)
	if err != nil {
		return nil, err
	}

	var manifest domain.Manifest
	if err := resp.decode(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func (t *HTTPTransport) Account(ctx context.Context) (*domain.Account, error) {
	resp, err := t.do(ctx, http.MethodGet, "/users/me", nil, true)
	if err != nil {
		return nil, err
	}

	var account domain.Account
	if err := resp.decode(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (t *HTTPTransport) Devices(ctx context.Context) ([]*domain.DeviceResponse, error) {
	resp, err := t.do(ctx, http.MethodGet, "/devices", nil, true)
	if err != nil {
		return nil, err
	}

	var devices []*domain.DeviceResponse
	if err := resp.decode(&devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (t *HTTPTransport) RevokeDevice(ctx context.Context, deviceID string) error {
	_, err := t.do(ctx, http.MethodDelete, "/devices/"+url.PathEscape(deviceID), nil, true)
	return err
}

func statePath(key string) string {
	return "/state/" + url.PathEscape(key)
}

type response struct {
	status int
	body   envelope
}

func (r *response) decode(out any) error {
	if len(r.body.Data) == 0 {
		return fmt.Errorf("empty response data (status %d)", r.status)
	}
	if err := json.Unmarshal(r.body.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// do sends one API request. For non-2xx statuses it returns both the
// parsed response and an *APIError.
func (t *HTTPTransport) do(ctx context.Context, method, path string, body any, auth bool) (*response, error) {
	resp, err := t.send(ctx, method, path, body, auth)
	if err != nil {
		return nil, err
	}

	if auth && resp.status == http.StatusUnauthorized {
		if err := t.refresh(ctx); err != nil {
			return resp, &APIError{StatusCode: resp.status, Message: resp.body.Error}
		}
		resp, err = t.send(ctx, method, path, body, auth)
		if err != nil {
			return nil, err
		}
	}

	if resp.status >= 400 {
		return resp, &APIError{StatusCode: resp.status, Message: resp.body.Error}
	}
	return resp, nil
}

func (t *HTTPTransport) send(ctx context.Context, method, path string, body any, auth bool) (*response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+apiPrefix+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token := t.AccessToken()
		if token == "" {
			return nil, ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	resp := &response{status: httpResp.StatusCode}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &resp.body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", httpResp.StatusCode, err)
		}
	}
	return resp, nil
}
