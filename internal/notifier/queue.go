// Package notifier implements the notification deduplication and delivery
// queue: it accepts alert requests from the daemon, drops silenced and
// duplicate requests, serializes on-screen presentation to one at a time,
// and drives the bundle-hash enrichment and distributed broadcast of
// blocked executions.
package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/wardensec/agent/internal/audit"
	"github.com/wardensec/agent/internal/bundle"
	"github.com/wardensec/agent/internal/event"
	"github.com/wardensec/agent/internal/logging"
	"github.com/wardensec/agent/internal/workerpool"
)

var log = logging.L("notifier")

// DismissFunc is handed to the surface with each displayed request. The
// surface must call it exactly once; silenceFor > 0 silences the request's
// identity for that duration.
type DismissFunc func(silenceFor time.Duration)

// Surface presents one notification at a time. Display must not block;
// the surface reports back asynchronously through the dismiss callback.
// Rendering is out of scope here.
type Surface interface {
	Display(req *Request, dismiss DismissFunc)

	// BundleProgress forwards bundle-identification progress for the
	// currently displayed request.
	BundleProgress(identity string, fraction float64, label string)

	// BundleFinished reports the terminal bundle hash for the currently
	// displayed request. An empty hash clears the pending-enrichment state.
	BundleFinished(identity string, bundleHash string)
}

// SilenceStore is the durable silence persistence consulted on enqueue.
type SilenceStore interface {
	IsSilenced(identity string, now time.Time) bool
	Set(identity string, expiresAt time.Time) error
}

// Broadcaster publishes blocked-execution records for external tooling.
type Broadcaster interface {
	Emit(ev *event.ExecutionEvent)
}

// BundleStarter kicks off bundle identification for a displayed
// execution block.
type BundleStarter interface {
	Start(ev event.ExecutionEvent, onProgress bundle.ProgressFunc, onResult bundle.ResultFunc)
	Shutdown()
}

// DaemonSyncer forwards bundle-enriched events back to the daemon for
// asynchronous server sync. Fire-and-forget.
type DaemonSyncer interface {
	SyncBundleEvent(ev event.ExecutionEvent, related []event.ExecutionEvent)
}

// SideEffectRunner runs broadcast emits and sync sends off the queue
// actor. Satisfied by workerpool.Pool.
type SideEffectRunner interface {
	Submit(task workerpool.Task) bool
}

// AuditTrail records notification decisions. Satisfied by audit.Logger.
type AuditTrail interface {
	Log(eventType string, identity string, details map[string]any)
}

// BundleJob is the transient per-display enrichment state, owned by the
// queue for the lifetime of one displayed execution-block request.
type BundleJob struct {
	Fraction   float64
	Label      string
	Finished   bool
	BundleHash string
}

// Options configures a Queue. Surface and Silences are required; the rest
// may be nil to disable the corresponding collaborator.
type Options struct {
	Surface     Surface
	Silences    SilenceStore
	Broadcaster Broadcaster
	Bundles     BundleStarter
	Syncer      DaemonSyncer
	Effects     SideEffectRunner
	Audit       AuditTrail

	// SilentMode suppresses all on-screen queuing. Broadcasts still fire.
	SilentMode bool

	// OnIdle is invoked when the last displayed notification is dismissed
	// and nothing is pending.
	OnIdle func()

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Queue is the notification arbitration actor. All state mutation happens
// on a single goroutine; external entry points marshal closures into it.
type Queue struct {
	opts Options
	now  func() time.Time

	cmds     chan func()
	stop     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	// Actor-owned state. Touched only from run().
	pending []*Request
	current *Request
	job     *BundleJob
}

// New creates and starts a queue.
func New(opts Options) *Queue {
	q := &Queue{
		opts:     opts,
		now:      opts.Now,
		cmds:     make(chan func(), 64),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	if q.now == nil {
		q.now = time.Now
	}
	go q.run()
	return q
}

// Shutdown stops the actor. Pending requests with replies are resolved
// with false so no authorization decision is leaked.
func (q *Queue) Shutdown(ctx context.Context) {
	q.stopOnce.Do(func() { close(q.stop) })
	select {
	case <-q.finished:
	case <-ctx.Done():
	}
}

func (q *Queue) run() {
	defer close(q.finished)
	for {
		select {
		case fn := <-q.cmds:
			fn()
		case <-q.stop:
			if q.current != nil {
				q.current.resolveReply(false)
			}
			for _, req := range q.pending {
				req.resolveReply(false)
			}
			return
		}
	}
}

// do marshals fn onto the actor goroutine. Returns false if the queue is
// shut down.
func (q *Queue) do(fn func()) bool {
	select {
	case q.cmds <- fn:
		return true
	case <-q.stop:
		return false
	}
}

// Enqueue submits a notification request from the daemon. Safe to call
// from any goroutine.
func (q *Queue) Enqueue(req *Request) {
	if !q.do(func() { q.enqueue(req) }) {
		req.resolveReply(false)
	}
}

func (q *Queue) enqueue(req *Request) {
	l := logging.WithRequest(log, req.Kind.String(), req.Identity)

	// The broadcast reflects every blocked execution, before any silence
	// or dedup filtering and regardless of silent mode: external tooling
	// depends on it even when the interactive notification is suppressed.
	if req.Kind == KindExecutionBlock && q.opts.Broadcaster != nil {
		ev := *req.Execution
		q.runEffect(func() { q.opts.Broadcaster.Emit(&ev) })
	}

	if req.AllowSilencing && q.opts.Silences != nil && q.opts.Silences.IsSilenced(req.Identity, q.now()) {
		l.Debug("request silenced")
		q.auditLog(audit.EventSilenced, req.Identity, map[string]any{"kind": req.Kind.String()})
		req.resolveReply(false)
		return
	}

	if q.opts.SilentMode {
		l.Debug("silent mode, not queuing")
		q.auditLog(audit.EventDropped, req.Identity, map[string]any{"reason": "silent_mode"})
		req.resolveReply(false)
		return
	}

	if q.isQueuedOrDisplayed(req.Identity) {
		l.Debug("duplicate request dropped")
		q.auditLog(audit.EventDeduped, req.Identity, map[string]any{"kind": req.Kind.String()})
		req.resolveReply(false)
		return
	}

	q.pending = append(q.pending, req)
	if q.current == nil {
		q.advance()
	}
}

func (q *Queue) isQueuedOrDisplayed(identity string) bool {
	if q.current != nil && q.current.Identity == identity {
		return true
	}
	for _, p := range q.pending {
		if p.Identity == identity {
			return true
		}
	}
	return false
}

// advance pops the queue head into current and displays it. Caller must
// ensure current == nil and the pending list is non-empty.
func (q *Queue) advance() {
	req := q.pending[0]
	q.pending = q.pending[1:]
	q.current = req
	q.job = nil

	q.display(req)
}

func (q *Queue) display(req *Request) {
	identity := req.Identity

	var once sync.Once
	dismiss := func(silenceFor time.Duration) {
		once.Do(func() {
			if !q.do(func() { q.onDismiss(identity, silenceFor) }) {
				req.resolveReply(false)
			}
		})
	}

	q.auditLog(audit.EventShown, identity, map[string]any{"kind": req.Kind.String()})
	q.opts.Surface.Display(req, dismiss)

	if req.needsBundleHash() && q.opts.Bundles != nil {
		q.job = &BundleJob{Label: "searching for files..."}
		q.opts.Bundles.Start(*req.Execution,
			func(fraction float64, label string) {
				q.do(func() { q.bundleProgress(identity, fraction, label) })
			},
			func(res bundle.Result) {
				q.do(func() { q.bundleFinished(identity, res) })
			},
		)
	}
}

// onDismiss handles the surface's dismiss callback: records the silence
// choice, retires the displayed request, and shows the next pending one.
func (q *Queue) onDismiss(identity string, silenceFor time.Duration) {
	if q.current == nil || q.current.Identity != identity {
		log.Debug("stale dismiss ignored", "identity", identity)
		return
	}

	if silenceFor > 0 && q.current.AllowSilencing && q.opts.Silences != nil {
		if err := q.opts.Silences.Set(identity, q.now().Add(silenceFor)); err != nil {
			log.Error("failed to persist silence", "identity", identity, "error", err)
		} else {
			q.auditLog(audit.EventSilenceSet, identity, map[string]any{
				"durationSeconds": int(silenceFor / time.Second),
			})
		}
	}

	// The surface resolves the reply with true on a standalone approval;
	// every other path resolves false here. Reply is one-shot either way.
	q.current.resolveReply(false)
	q.current = nil
	q.job = nil

	if len(q.pending) > 0 {
		q.advance()
		return
	}

	if q.opts.Bundles != nil {
		q.opts.Bundles.Shutdown()
	}
	if q.opts.OnIdle != nil {
		q.opts.OnIdle()
	}
}

func (q *Queue) bundleProgress(identity string, fraction float64, label string) {
	if q.current == nil || q.current.Identity != identity || q.job == nil {
		log.Debug("stale bundle progress discarded", "identity", identity)
		return
	}
	if fraction > q.job.Fraction {
		q.job.Fraction = fraction
	}
	if label != "" {
		q.job.Label = label
	}
	q.opts.Surface.BundleProgress(identity, q.job.Fraction, q.job.Label)
}

func (q *Queue) bundleFinished(identity string, res bundle.Result) {
	if q.current == nil || q.current.Identity != identity || q.job == nil {
		log.Debug("stale bundle reply discarded", "identity", identity)
		return
	}

	q.job.Finished = true
	q.job.BundleHash = res.BundleHash

	if res.BundleHash == "" {
		q.opts.Surface.BundleFinished(identity, "")
		return
	}

	ev := q.current.Execution
	ev.FileBundleHash = res.BundleHash
	ev.FileBundleBinaryCount = res.BinaryCount
	ev.FileBundleHashMillis = res.ElapsedMillis

	related := make([]event.ExecutionEvent, len(res.RelatedEvents))
	copy(related, res.RelatedEvents)
	for i := range related {
		related[i].FileBundleHash = res.BundleHash
		related[i].FileBundleBinaryCount = res.BinaryCount
		related[i].FileBundleHashMillis = res.ElapsedMillis
	}

	if q.opts.Syncer != nil {
		enriched := *ev
		q.runEffect(func() { q.opts.Syncer.SyncBundleEvent(enriched, related) })
	}

	q.opts.Surface.BundleFinished(identity, res.BundleHash)
}

// auditLog records a decision in the audit trail, if one is configured.
func (q *Queue) auditLog(eventType, identity string, details map[string]any) {
	if q.opts.Audit != nil {
		q.opts.Audit.Log(eventType, identity, details)
	}
}

// runEffect hands a side effect to the worker pool, falling back to a
// plain goroutine if no pool is configured or it is saturated.
func (q *Queue) runEffect(fn func()) {
	if q.opts.Effects != nil && q.opts.Effects.Submit(fn) {
		return
	}
	go fn()
}
