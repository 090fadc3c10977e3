package transport

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"slugstate/internal/websocket"

	gorilla "github.com/gorilla/websocket"
)

const (
	defaultReconnectBase = time.Second
	defaultReconnectMax  = 30 * time.Second
)

// Watcher listens on the server's websocket for state announcements
// from other devices and emits the announced keys.
type Watcher struct {
	transport *HTTPTransport
	deviceID  string
	dialer    *gorilla.Dialer
	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewWatcher(transport *HTTPTransport, deviceID string) *Watcher {
	return &Watcher{
		transport: transport,
		deviceID:  deviceID,
		dialer:    gorilla.DefaultDialer,
		baseDelay: defaultReconnectBase,
		maxDelay:  defaultReconnectMax,
	}
}

func (w *Watcher) socketURL() (string, error) {
	u, err := url.Parse(w.transport.BaseURL())
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{
		"token":     {w.transport.AccessToken()},
		"device_id": {w.deviceID},
	}.Encode()
	return u.String(), nil
}

// Watch emits announced keys until ctx is done, reconnecting with
// exponential backoff. The channel is closed when Watch stops.
func (w *Watcher) Watch(ctx context.Context) <-chan string {
	keys := make(chan string, 16)

	go func() {
		defer close(keys)

		attempt := 0
		for {
			connected, err := w.listen(ctx, keys)
			if ctx.Err() != nil {
				return
			}
			if connected {
				attempt = 0
			}

			delay := w.nextDelay(attempt)
			attempt++
			log.Printf("[Watcher] Connection lost (%v), reconnecting in %s", err, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}()

	return keys
}

func (w *Watcher) nextDelay(attempt int) time.Duration {
	delay := w.baseDelay << min(attempt, 16)
	if delay <= 0 || delay > w.maxDelay {
		delay = w.maxDelay
	}
	jitter := time.Duration(rand.Float64() * float64(w.baseDelay) * 0.5)
	return delay + jitter
}

// listen runs one connection. connected reports whether the dial
// succeeded.
func (w *Watcher) listen(ctx context.Context, keys chan<- string) (connected bool, err error) {
	wsURL, err := w.socketURL()
	if err != nil {
		return false, err
	}

	conn, _, err := w.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg websocket.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return true, err
		}

		if msg.Type != websocket.TypeStateUpdate {
			continue
		}
		var payload websocket.StateUpdatePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			log.Printf("[Watcher] Bad state_update payload: %v", err)
			continue
		}
		if payload.DeviceID == w.deviceID || payload.Key == "" {
			continue
		}

		select {
		case keys <- payload.Key:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
