package notifier

import (
	"sync"

	"github.com/wardensec/agent/internal/event"
)

// Kind discriminates the notification request types posted by the daemon.
type Kind int

const (
	KindExecutionBlock Kind = iota
	KindDeviceBlock
	KindFileAccessBlock
	KindNetworkMountBlock
)

func (k Kind) String() string {
	switch k {
	case KindExecutionBlock:
		return "execution_block"
	case KindDeviceBlock:
		return "device_block"
	case KindFileAccessBlock:
		return "file_access_block"
	case KindNetworkMountBlock:
		return "network_mount_block"
	default:
		return "unknown"
	}
}

// Reply is a one-shot boolean reply to the daemon. It gates a privileged
// decision (standalone-mode approval), so it must fire exactly once before
// the request is discarded: the first Resolve wins, later calls are no-ops.
type Reply struct {
	once sync.Once
	fn   func(authenticated bool)
}

// NewReply wraps fn in a one-shot reply. fn may be nil.
func NewReply(fn func(authenticated bool)) *Reply {
	return &Reply{fn: fn}
}

// Resolve delivers the reply if it has not been delivered yet.
func (r *Reply) Resolve(authenticated bool) {
	if r == nil || r.fn == nil {
		return
	}
	r.once.Do(func() {
		r.fn(authenticated)
	})
}

// Request is the unit of work enqueued by the daemon. Exactly one of the
// event pointers is set, matching Kind.
type Request struct {
	Kind     Kind
	Identity string

	Execution    *event.ExecutionEvent
	Device       *event.DeviceEvent
	FileAccess   *event.FileAccessEvent
	NetworkMount *event.NetworkMountEvent

	CustomMessage string
	CustomURL     string
	CustomText    string
	ConfigState   event.ConfigState

	// AllowSilencing controls whether user silencing is honored for this
	// request. Device and network-mount blocks are always silenceable;
	// execution and file-access blocks follow daemon configuration.
	AllowSilencing bool

	// Reply, if non-nil, must be resolved exactly once before the request
	// is discarded. Drop paths resolve it with false.
	Reply *Reply
}

// resolveReply delivers the pending reply, if any.
func (r *Request) resolveReply(authenticated bool) {
	r.Reply.Resolve(authenticated)
}

// needsBundleHash reports whether the displayed request should kick off
// bundle identification.
func (r *Request) needsBundleHash() bool {
	return r.Kind == KindExecutionBlock &&
		r.Execution != nil &&
		r.Execution.FileBundlePath != "" &&
		r.ConfigState.EnableBundles
}
