package ipc

import (
	"encoding/json"

	"github.com/wardensec/agent/internal/event"
)

// Message type constants for IPC with the daemon and the bundle service.
const (
	TypeAuthRequest  = "auth_request"
	TypeAuthResponse = "auth_response"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeDisconnect   = "disconnect"

	// Daemon → notifier alert posts.
	TypePostExecutionBlock    = "post_execution_block"
	TypePostDeviceBlock       = "post_device_block"
	TypePostFileAccessBlock   = "post_file_access_block"
	TypePostNetworkMountBlock = "post_network_mount_block"

	// Daemon → notifier announcements.
	TypePostClientMode = "post_client_mode"
	TypePostRuleSync   = "post_rule_sync"

	// Notifier → daemon replies and sync.
	TypeNotificationReply = "notification_reply"
	TypeSyncBundleEvent   = "sync_bundle_event"

	// Daemon → notifier push-token request and its reply.
	TypeRequestPushToken = "request_push_token"
	TypePushTokenReply   = "push_token_reply"

	// Bundle service protocol.
	TypeHashBundle     = "hash_bundle"
	TypeBundleProgress = "bundle_progress"
	TypeBundleCounts   = "bundle_counts"
	TypeBundleResult   = "bundle_result"
)

// MaxMessageSize is the maximum size of a JSON IPC message (16MB).
const MaxMessageSize = 16 * 1024 * 1024

// ProtocolVersion is the current IPC protocol version.
const ProtocolVersion = 1

// Envelope is the wire-format wrapper for all IPC messages.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error,omitempty"`
	HMAC    string          `json:"hmac"`
}

// AuthRequest is sent by the notifier to the daemon after connecting.
type AuthRequest struct {
	ProtocolVersion int    `json:"protocolVersion"`
	UID             uint32 `json:"uid"`
	SID             string `json:"sid,omitempty"` // Windows Security Identifier
	Username        string `json:"username"`
	SessionID       string `json:"sessionId"`
	PID             int    `json:"pid"`
	BinaryHash      string `json:"binaryHash"`
}

// AuthResponse is sent by the daemon back to the notifier.
type AuthResponse struct {
	Accepted   bool   `json:"accepted"`
	SessionKey string `json:"sessionKey,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// PostExecutionBlock asks the notifier to alert on a blocked execution.
// The daemon expects a NotificationReply keyed by the envelope ID.
type PostExecutionBlock struct {
	Event         event.ExecutionEvent `json:"event"`
	CustomMessage string               `json:"customMessage,omitempty"`
	CustomURL     string               `json:"customUrl,omitempty"`
	ConfigState   event.ConfigState    `json:"configState"`
}

// PostDeviceBlock asks the notifier to alert on a blocked removable-media mount.
type PostDeviceBlock struct {
	Event event.DeviceEvent `json:"event"`
}

// PostFileAccessBlock asks the notifier to alert on a blocked file access.
type PostFileAccessBlock struct {
	Event         event.FileAccessEvent `json:"event"`
	CustomMessage string                `json:"customMessage,omitempty"`
	CustomURL     string                `json:"customUrl,omitempty"`
	CustomText    string                `json:"customText,omitempty"`
	ConfigState   event.ConfigState     `json:"configState"`
}

// PostNetworkMountBlock asks the notifier to alert on a blocked network mount.
type PostNetworkMountBlock struct {
	Event       event.NetworkMountEvent `json:"event"`
	ConfigState event.ConfigState       `json:"configState"`
}

// PostClientMode announces a daemon enforcement-mode change.
type PostClientMode struct {
	ClientMode    event.ClientMode `json:"clientMode"`
	CustomMessage string           `json:"customMessage,omitempty"`
	// MessageOverridden distinguishes "no override configured" from an
	// explicit empty override, which suppresses the announcement.
	MessageOverridden bool `json:"messageOverridden,omitempty"`
}

// PostRuleSync announces that a rule allowing an application arrived via sync.
type PostRuleSync struct {
	Application       string `json:"application"`
	CustomMessage     string `json:"customMessage,omitempty"`
	MessageOverridden bool   `json:"messageOverridden,omitempty"`
}

// NotificationReply resolves a daemon post that gates a privileged decision.
// RequestID is the envelope ID of the originating post.
type NotificationReply struct {
	RequestID     string `json:"requestId"`
	Authenticated bool   `json:"authenticated"`
}

// SyncBundleEvent forwards a bundle-enriched event and its related events
// to the daemon for asynchronous server sync. Fire-and-forget.
type SyncBundleEvent struct {
	Event         event.ExecutionEvent   `json:"event"`
	RelatedEvents []event.ExecutionEvent `json:"relatedEvents,omitempty"`
}

// PushTokenReply answers a daemon request_push_token message. Token is
// empty when no token is available yet.
type PushTokenReply struct {
	RequestID string `json:"requestId"`
	Token     string `json:"token,omitempty"`
}

// HashBundle asks the bundle service to hash all binaries in the app
// bundle enclosing the blocked file.
type HashBundle struct {
	Event event.ExecutionEvent `json:"event"`
}

// BundleProgress is a fractional-progress push from the bundle service.
type BundleProgress struct {
	Fraction float64 `json:"fraction"`
	Label    string  `json:"label,omitempty"`
}

// BundleCounts is the lower-frequency count-based progress push.
type BundleCounts struct {
	BinaryCount uint64 `json:"binaryCount"`
	FileCount   uint64 `json:"fileCount"`
	HashedCount uint64 `json:"hashedCount"`
}

// BundleResult is the single terminal reply to a HashBundle request.
// An empty BundleHash means hashing failed.
type BundleResult struct {
	BundleHash    string                 `json:"bundleHash,omitempty"`
	RelatedEvents []event.ExecutionEvent `json:"relatedEvents,omitempty"`
	ElapsedMillis int64                  `json:"elapsedMillis"`
}
