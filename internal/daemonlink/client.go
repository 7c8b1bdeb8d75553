// Package daemonlink maintains the notifier's IPC session with the root
// daemon: it authenticates, receives block/announcement posts, and carries
// replies and bundle sync back.
package daemonlink

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardensec/agent/internal/event"
	"github.com/wardensec/agent/internal/ipc"
	"github.com/wardensec/agent/internal/logging"
	"github.com/wardensec/agent/internal/notifier"
	"github.com/wardensec/agent/internal/push"
)

var log = logging.L("daemonlink")

const (
	dialTimeout       = 5 * time.Second
	readPollInterval  = 5 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 30 * time.Second
)

// NotificationQueue accepts requests built from daemon posts. Satisfied by
// notifier.Queue.
type NotificationQueue interface {
	Enqueue(req *notifier.Request)
}

// Announcer shows transient announcements that bypass the block queue.
type Announcer interface {
	AnnounceClientMode(mode event.ClientMode, customMessage string, overridden bool)
	AnnounceRuleSync(application string, customMessage string, overridden bool)
}

// TokenProvider answers daemon push-token requests. Satisfied by
// push.Coordinator.
type TokenProvider interface {
	RequestToken(cb push.TokenFunc)
}

// Client is the notifier side of the daemon connection.
type Client struct {
	socketPath string
	queue      NotificationQueue
	announcer  Announcer
	tokens     TokenProvider

	dialFn func() (net.Conn, error)

	mu   sync.RWMutex
	conn *ipc.Conn

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a client for the daemon socket. announcer and tokens may be
// nil; the corresponding posts are then dropped with a log line.
func New(socketPath string, queue NotificationQueue, announcer Announcer, tokens TokenProvider) *Client {
	c := &Client{
		socketPath: socketPath,
		queue:      queue,
		announcer:  announcer,
		tokens:     tokens,
		stopChan:   make(chan struct{}),
	}
	c.dialFn = func() (net.Conn, error) {
		return ipc.Dial(c.socketPath, dialTimeout)
	}
	return c
}

// Run connects and serves sessions until Stop is called, reconnecting with
// backoff when the daemon restarts or the connection drops.
func (c *Client) Run() {
	delay := reconnectDelay

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		if err := c.runSession(); err != nil {
			log.Warn("daemon session ended", "error", err)
		}

		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Stop closes the connection and halts reconnection.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)

		c.mu.Lock()
		if c.conn != nil {
			c.conn.SetDeadline(time.Now().Add(time.Second))
			c.conn.SendTyped("disconnect", ipc.TypeDisconnect, nil)
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})
}

// runSession dials, authenticates, and serves one connection lifetime.
func (c *Client) runSession() error {
	raw, err := c.dialFn()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := verifyDaemonPeer(raw); err != nil {
		raw.Close()
		return err
	}

	conn := ipc.NewConn(raw)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	if err := c.authenticate(conn); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	log.Info("connected to daemon", "socket", c.socketPath)
	return c.receiveLoop(conn)
}

func (c *Client) authenticate(conn *ipc.Conn) error {
	cu, err := user.Current()
	if err != nil {
		return fmt.Errorf("get current user: %w", err)
	}

	uid, err := strconv.ParseUint(cu.Uid, 10, 32)
	var sid string
	if err != nil {
		// On Windows cu.Uid is the SID string.
		uid = 0
		sid = cu.Uid
	}

	binaryHash, _ := computeSelfHash()

	authReq := ipc.AuthRequest{
		ProtocolVersion: ipc.ProtocolVersion,
		UID:             uint32(uid),
		SID:             sid,
		Username:        cu.Username,
		SessionID:       fmt.Sprintf("notifier-%s-%d", cu.Username, os.Getpid()),
		PID:             os.Getpid(),
		BinaryHash:      binaryHash,
	}

	if err := conn.SendTyped("auth", ipc.TypeAuthRequest, authReq); err != nil {
		return fmt.Errorf("send auth request: %w", err)
	}

	env, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("recv auth response: %w", err)
	}
	if env.Type != ipc.TypeAuthResponse {
		return fmt.Errorf("expected auth_response, got %s", env.Type)
	}

	var resp ipc.AuthResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return fmt.Errorf("unmarshal auth response: %w", err)
	}
	if !resp.Accepted {
		return fmt.Errorf("auth rejected: %s", resp.Reason)
	}

	key, err := hex.DecodeString(resp.SessionKey)
	if err != nil {
		return fmt.Errorf("decode session key: %w", err)
	}
	conn.SetSessionKey(key)

	return nil
}

func (c *Client) receiveLoop(conn *ipc.Conn) error {
	for {
		select {
		case <-c.stopChan:
			return nil
		default:
		}

		// Short read deadline so stopChan is checked periodically.
		conn.SetReadDeadline(time.Now().Add(readPollInterval))

		env, err := conn.Recv()
		if err != nil {
			if isTimeout(err) {
				if pingErr := conn.SendTyped("ping", ipc.TypePing, nil); pingErr != nil {
					return fmt.Errorf("keepalive ping: %w", pingErr)
				}
				continue
			}
			return fmt.Errorf("recv: %w", err)
		}

		switch env.Type {
		case ipc.TypePing:
			if err := conn.SendTyped(env.ID, ipc.TypePong, nil); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}

		case ipc.TypePong:
			// Reply to our keepalive.

		case ipc.TypePostExecutionBlock:
			c.handlePostExecution(env)

		case ipc.TypePostDeviceBlock:
			c.handlePostDevice(env)

		case ipc.TypePostFileAccessBlock:
			c.handlePostFileAccess(env)

		case ipc.TypePostNetworkMountBlock:
			c.handlePostNetworkMount(env)

		case ipc.TypePostClientMode:
			c.handlePostClientMode(env)

		case ipc.TypePostRuleSync:
			c.handlePostRuleSync(env)

		case ipc.TypeRequestPushToken:
			c.handleRequestPushToken(env)

		case ipc.TypeDisconnect:
			log.Info("disconnect received from daemon")
			return nil

		default:
			log.Warn("unknown message type from daemon", "type", env.Type)
		}
	}
}

func (c *Client) handlePostExecution(env *ipc.Envelope) {
	var p ipc.PostExecutionBlock
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn("invalid post_execution_block payload", "error", err)
		return
	}

	requestID := env.ID
	req := &notifier.Request{
		Kind:           notifier.KindExecutionBlock,
		Identity:       p.Event.Identity(),
		Execution:      &p.Event,
		CustomMessage:  p.CustomMessage,
		CustomURL:      p.CustomURL,
		ConfigState:    p.ConfigState,
		AllowSilencing: p.ConfigState.EnableNotificationSilences,
		Reply: notifier.NewReply(func(authenticated bool) {
			c.sendReply(requestID, authenticated)
		}),
	}
	c.queue.Enqueue(req)
}

func (c *Client) handlePostDevice(env *ipc.Envelope) {
	var p ipc.PostDeviceBlock
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn("invalid post_device_block payload", "error", err)
		return
	}

	c.queue.Enqueue(&notifier.Request{
		Kind:           notifier.KindDeviceBlock,
		Identity:       p.Event.Identity(),
		Device:         &p.Event,
		AllowSilencing: true,
	})
}

func (c *Client) handlePostFileAccess(env *ipc.Envelope) {
	var p ipc.PostFileAccessBlock
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn("invalid post_file_access_block payload", "error", err)
		return
	}

	c.queue.Enqueue(&notifier.Request{
		Kind:           notifier.KindFileAccessBlock,
		Identity:       p.Event.Identity(),
		FileAccess:     &p.Event,
		CustomMessage:  p.CustomMessage,
		CustomURL:      p.CustomURL,
		CustomText:     p.CustomText,
		ConfigState:    p.ConfigState,
		AllowSilencing: p.ConfigState.EnableNotificationSilences,
	})
}

func (c *Client) handlePostNetworkMount(env *ipc.Envelope) {
	var p ipc.PostNetworkMountBlock
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn("invalid post_network_mount_block payload", "error", err)
		return
	}

	c.queue.Enqueue(&notifier.Request{
		Kind:           notifier.KindNetworkMountBlock,
		Identity:       p.Event.Identity(),
		NetworkMount:   &p.Event,
		ConfigState:    p.ConfigState,
		AllowSilencing: true,
	})
}

func (c *Client) handlePostClientMode(env *ipc.Envelope) {
	var p ipc.PostClientMode
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn("invalid post_client_mode payload", "error", err)
		return
	}
	if c.announcer == nil {
		log.Debug("no announcer, dropping client mode announcement")
		return
	}
	c.announcer.AnnounceClientMode(p.ClientMode, p.CustomMessage, p.MessageOverridden)
}

func (c *Client) handlePostRuleSync(env *ipc.Envelope) {
	var p ipc.PostRuleSync
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn("invalid post_rule_sync payload", "error", err)
		return
	}
	if c.announcer == nil {
		log.Debug("no announcer, dropping rule sync announcement")
		return
	}
	c.announcer.AnnounceRuleSync(p.Application, p.CustomMessage, p.MessageOverridden)
}

func (c *Client) handleRequestPushToken(env *ipc.Envelope) {
	requestID := env.ID

	if c.tokens == nil {
		c.sendTokenReply(requestID, "")
		return
	}

	// The callback may fire much later, when registration completes.
	c.tokens.RequestToken(func(token string) {
		c.sendTokenReply(requestID, token)
	})
}

func (c *Client) sendReply(requestID string, authenticated bool) {
	err := c.sendTyped(uuid.NewString(), ipc.TypeNotificationReply, ipc.NotificationReply{
		RequestID:     requestID,
		Authenticated: authenticated,
	})
	if err != nil {
		log.Warn("failed to send notification reply", "requestId", requestID, "error", err)
	}
}

func (c *Client) sendTokenReply(requestID, token string) {
	err := c.sendTyped(uuid.NewString(), ipc.TypePushTokenReply, ipc.PushTokenReply{
		RequestID: requestID,
		Token:     token,
	})
	if err != nil {
		log.Warn("failed to send push token reply", "requestId", requestID, "error", err)
	}
}

// SyncBundleEvent forwards a bundle-enriched event to the daemon for server
// sync. Fire-and-forget; failures are logged. Satisfies notifier.DaemonSyncer.
func (c *Client) SyncBundleEvent(ev event.ExecutionEvent, related []event.ExecutionEvent) {
	err := c.sendTyped(uuid.NewString(), ipc.TypeSyncBundleEvent, ipc.SyncBundleEvent{
		Event:         ev,
		RelatedEvents: related,
	})
	if err != nil {
		log.Warn("failed to sync bundle event", "fileSha256", ev.FileSHA256, "error", err)
	}
}

// sendTyped writes on the current session, if any.
func (c *Client) sendTyped(id, msgType string, payload any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.New("not connected to daemon")
	}
	return conn.SendTyped(id, msgType, payload)
}

// verifyDaemonPeer rejects daemon sockets whose peer process is not
// privileged. Transports that cannot expose peer credentials (named pipes
// are gated by their ACL) are allowed through; the HMAC handshake remains
// the primary gate.
func verifyDaemonPeer(raw net.Conn) error {
	creds, err := ipc.GetPeerCredentials(raw)
	if err != nil {
		log.Debug("peer credentials unavailable", "error", err)
		return nil
	}
	if !creds.IsPrivileged() {
		return fmt.Errorf("daemon socket peer is not privileged (pid %d)", creds.PID)
	}
	return nil
}

func computeSelfHash() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exePath, err = filepath.EvalSymlinks(exePath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(exePath)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
