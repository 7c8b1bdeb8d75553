// Package bundle obtains an app-bundle hash for a blocked execution from
// the auxiliary bundle service, forwarding progress to the notification
// queue and reporting a single terminal result.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wardensec/agent/internal/event"
	"github.com/wardensec/agent/internal/ipc"
	"github.com/wardensec/agent/internal/logging"
)

var log = logging.L("bundle")

// ErrConnectTimeout indicates the bundle service was unreachable within
/// the dial bound. Not fatal: the notification is shown without enrichment.
var ErrConnectTimeout = errors.New("bundle: connect timed out")

// DialTimeout bounds the connection attempt to the bundle service.
const DialTimeout = 5 * time.Second

// State of a single hashing job.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateInProgress
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of one Start call. An empty BundleHash
// means hashing failed and the notification is shown without enrichment.
type Result struct {
	BundleHash    string
	RelatedEvents []event.ExecutionEvent
	BinaryCount   int
	ElapsedMillis int64
}

// ProgressFunc receives fractional progress and a user-facing label.
// Calls may arrive from the coordinator's reader goroutine.
type ProgressFunc func(fraction float64, label string)

// ResultFunc receives the single terminal result of a Start call.
type ResultFunc func(Result)

// DialFunc opens a framed connection to the bundle service.
type DialFunc func(path string, timeout time.Duration) (*ipc.Conn, error)

// Coordinator manages at most one in-flight bundle hashing job, tied to
// the currently displayed execution-block notification.
type Coordinator struct {
	socketPath string
	dial       DialFunc
	limiter    *ipc.DialLimiter
	state      atomic.Int32

	mu   sync.Mutex
	conn *ipc.Conn
}

// New creates a coordinator for the bundle service at socketPath.
func New(socketPath string) *Coordinator {
	return &Coordinator{
		socketPath: socketPath,
		dial:       defaultDial,
		// The service being down should not cause a dial per displayed
		// notification; 6 attempts a minute is plenty.
		limiter: ipc.NewDialLimiter(6, time.Minute),
	}
}

// NewWithDialer creates a coordinator with a custom dialer, for tests.
func NewWithDialer(socketPath string, dial DialFunc) *Coordinator {
	c := New(socketPath)
	c.dial = dial
	return c
}

func defaultDial(path string, timeout time.Duration) (*ipc.Conn, error) {
	raw, err := ipc.Dial(path, timeout)
	if err != nil {
		return nil, err
	}
	return ipc.NewConn(raw), nil
}

// State returns the state of the most recent job.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Start connects to the bundle service and requests a hash of all binaries
// in the bundle enclosing ev. The connection attempt blocks the caller for
// at most DialTimeout; progress and the terminal result are delivered
// asynchronously from a reader goroutine. Exactly one onResult call is
// made per Start. The coordinator is single-use per invocation: each Start
// opens a fresh connection.
func (c *Coordinator) Start(ev event.ExecutionEvent, onProgress ProgressFunc, onResult ResultFunc) {
	var once sync.Once
	terminal := func(s State, res Result) {
		once.Do(func() {
			c.state.Store(int32(s))
			onResult(res)
		})
	}

	c.state.Store(int32(StateConnecting))

	if !c.limiter.Allow(c.socketPath) {
		log.Warn("bundle service dial suppressed by limiter", "socket", c.socketPath)
		terminal(StateFailed, Result{})
		return
	}

	conn, err := c.dial(c.socketPath, DialTimeout)
	if err != nil {
		log.Warn("bundle service unreachable", "socket", c.socketPath, "error", err)
		terminal(StateTimedOut, Result{})
		return
	}

	if err := conn.SendTyped(uuid.NewString(), ipc.TypeHashBundle, ipc.HashBundle{Event: ev}); err != nil {
		log.Warn("hash request send failed", "error", err)
		conn.Close()
		terminal(StateFailed, Result{})
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.state.Store(int32(StateInProgress))
	onProgress(0, "searching for files...")

	go c.readLoop(conn, onProgress, terminal)
}

// readLoop drains progress pushes until the terminal bundle_result arrives
// or the connection drops.
func (c *Coordinator) readLoop(conn *ipc.Conn, onProgress ProgressFunc, terminal func(State, Result)) {
	defer conn.Close()

	var lastFraction float64
	var binaryCount uint64

	for {
		env, err := conn.Recv()
		if err != nil {
			log.Warn("bundle service connection lost", "error", err)
			terminal(StateFailed, Result{})
			return
		}

		switch env.Type {
		case ipc.TypeBundleProgress:
			var p ipc.BundleProgress
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				log.Warn("malformed bundle_progress", "error", err)
				continue
			}
			if p.Fraction > lastFraction {
				lastFraction = p.Fraction
			}
			onProgress(lastFraction, p.Label)

		case ipc.TypeBundleCounts:
			var counts ipc.BundleCounts
			if err := json.Unmarshal(env.Payload, &counts); err != nil {
				log.Warn("malformed bundle_counts", "error", err)
				continue
			}
			binaryCount = counts.BinaryCount
			fraction := lastFraction
			if counts.HashedCount > 0 && counts.BinaryCount > 0 {
				fraction = float64(counts.HashedCount) / float64(counts.BinaryCount)
				if fraction > lastFraction {
					lastFraction = fraction
				}
			}
			onProgress(lastFraction, countsLabel(counts.BinaryCount, counts.FileCount, counts.HashedCount))

		case ipc.TypeBundleResult:
			var res ipc.BundleResult
			if err := json.Unmarshal(env.Payload, &res); err != nil {
				log.Warn("malformed bundle_result", "error", err)
				terminal(StateFailed, Result{})
				return
			}
			if res.BundleHash == "" {
				terminal(StateFailed, Result{ElapsedMillis: res.ElapsedMillis})
				return
			}
			terminal(StateCompleted, Result{
				BundleHash:    res.BundleHash,
				RelatedEvents: res.RelatedEvents,
				BinaryCount:   int(binaryCount),
				ElapsedMillis: res.ElapsedMillis,
			})
			return

		default:
			log.Debug("unexpected bundle service message", "type", env.Type)
		}
	}
}

// Shutdown drops the bundle service connection. Called when the queue goes
// idle; an in-flight job, if any, terminates as failed via its read loop.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// countsLabel renders the lower-frequency count progress. fileCount is
// clamped to at least binaryCount; once any hashing has started the
// hashed/binaries form is preferred.
func countsLabel(binaryCount, fileCount, hashedCount uint64) string {
	if fileCount < binaryCount {
		fileCount = binaryCount
	}
	if hashedCount > 0 {
		return fmt.Sprintf("%d/%d binaries hashed", hashedCount, binaryCount)
	}
	return fmt.Sprintf("%d binaries in %d files", binaryCount, fileCount)
}
