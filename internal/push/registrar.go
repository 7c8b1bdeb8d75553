package push

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// TokenSink receives the outcome of a registration attempt. Coordinator
// satisfies it.
type TokenSink interface {
	OnTokenAvailable(token string)
	OnRegistrationFailure(err error)
}

// WSRegistrar obtains push tokens over a persistent WebSocket to the sync
// server. The server assigns a token on registration and may push
// replacements as it rotates them.
type WSRegistrar struct {
	serverURL string
	machineID string
	sink      TokenSink

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewWSRegistrar creates a registrar against serverURL. sink is notified of
// every token the server issues.
func NewWSRegistrar(serverURL, machineID string, sink TokenSink) *WSRegistrar {
	return &WSRegistrar{
		serverURL: serverURL,
		machineID: machineID,
		sink:      sink,
		done:      make(chan struct{}),
	}
}

// Register starts the registration loop. Subsequent calls while the loop is
// running are no-ops; after a reported failure the loop has exited and a new
// call starts it again.
func (r *WSRegistrar) Register() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.run()
}

// Stop closes the connection and halts reconnection.
func (r *WSRegistrar) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		if r.conn != nil {
			r.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			r.conn.Close()
			r.conn = nil
		}
		r.mu.Unlock()
	})
}

func (r *WSRegistrar) run() {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	backoff := initialBackoff
	attempts := 0

	for {
		select {
		case <-r.done:
			return
		default:
		}

		if err := r.connect(); err != nil {
			attempts++
			log.Warn("push registration connect failed", "error", err, "attempt", attempts)

			// After a few straight failures, hand the failure to the
			// coordinator so a later request can re-trigger us.
			if attempts >= 3 {
				r.sink.OnRegistrationFailure(err)
				return
			}

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}
			select {
			case <-r.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff
		attempts = 0

		r.readLoop()

		select {
		case <-r.done:
			return
		default:
			// Connection dropped; reconnect to keep receiving rotations.
		}
	}
}

func (r *WSRegistrar) connect() error {
	wsURL, err := r.buildWSURL()
	if err != nil {
		return fmt.Errorf("build push registration URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}

	conn.SetReadLimit(maxMessageSize)

	register := map[string]string{
		"type":       "register",
		"machine_id": r.machineID,
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(register); err != nil {
		conn.Close()
		return fmt.Errorf("send register: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	log.Info("push registration connected", "server", r.serverURL)
	return nil
}

func (r *WSRegistrar) buildWSURL() (string, error) {
	serverURL, err := url.Parse(r.serverURL)
	if err != nil {
		return "", err
	}

	switch serverURL.Scheme {
	case "https":
		serverURL.Scheme = "wss"
	case "http":
		serverURL.Scheme = "ws"
	}
	serverURL.Path = "/v1/push/register"

	return serverURL.String(), nil
}

func (r *WSRegistrar) readLoop() {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go r.pingLoop(conn, pingDone)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("push registration read error", "error", err)
			}
			return
		}

		var msg struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Warn("unparseable push message", "error", err)
			continue
		}

		if msg.Type == "token" && msg.Token != "" {
			r.sink.OnTokenAvailable(msg.Token)
		}
	}
}

func (r *WSRegistrar) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
