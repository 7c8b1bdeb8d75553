// Package push coalesces requests for the asynchronously obtained
// push-notification token behind a single underlying registration.
package push

import (
	"sync"

	"github.com/wardensec/agent/internal/logging"
	"github.com/wardensec/agent/internal/secmem"
)

var log = logging.L("push")

// Registrar triggers the underlying asynchronous token registration.
// The coordinator calls Register at most once per token acquisition;
// the token arrives later via Coordinator.OnTokenAvailable.
type Registrar interface {
	Register()
}

// TokenFunc receives a token. An empty string means no token is available
// and none will be requested.
type TokenFunc func(token string)

// Coordinator caches the token and coalesces concurrent requests while a
// registration is in flight.
type Coordinator struct {
	mu sync.Mutex

	// token is the credential that addresses push messages to this
	// machine; kept redaction-safe and wiped on shutdown.
	token               *secmem.SecureString
	haveToken           bool
	registrationStarted bool
	waiters             []TokenFunc

	registrar Registrar

	// onChanged, if set, is notified of every new token. Wired to the
	// sync server only when both a sync endpoint and push notifications
	// are configured.
	onChanged func(token string)
}

// New creates a coordinator. registrar may be nil when push notifications
// are not configured; requests then receive an empty token synchronously.
func New(registrar Registrar) *Coordinator {
	return &Coordinator{registrar: registrar}
}

// SetRegistrar wires the registrar after construction. The registrar needs
// the coordinator as its token sink, so the two are built in two steps.
func (c *Coordinator) SetRegistrar(r Registrar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrar = r
}

// SetTokenChangedNotifier wires the remote sync collaborator.
func (c *Coordinator) SetTokenChangedNotifier(fn func(token string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChanged = fn
}

// RequestToken delivers the token to cb. A cached token is delivered
// synchronously. Otherwise cb is queued and, on the first outstanding
// request, the underlying registration is triggered exactly once. With no
// registrar configured there is nothing to wait for, so cb receives an
// explicit empty token synchronously.
func (c *Coordinator) RequestToken(cb TokenFunc) {
	c.mu.Lock()

	if c.haveToken {
		token := c.token.Reveal()
		c.mu.Unlock()
		cb(token)
		return
	}

	if c.registrar == nil {
		c.mu.Unlock()
		cb("")
		return
	}

	c.waiters = append(c.waiters, cb)
	trigger := !c.registrationStarted
	c.registrationStarted = true
	c.mu.Unlock()

	if trigger {
		c.registrar.Register()
	}
}

// OnTokenAvailable caches the token and drains all queued waiters,
// invoking each exactly once. Called by the registrar when registration
// completes, possibly repeatedly over the process lifetime as the token
// rotates.
func (c *Coordinator) OnTokenAvailable(token string) {
	c.mu.Lock()
	changed := token != c.token.Reveal()
	c.token.Zero()
	c.token = secmem.NewSecureString(token)
	c.haveToken = true
	waiters := c.waiters
	c.waiters = nil
	onChanged := c.onChanged
	c.mu.Unlock()

	log.Info("push token available", "waiters", len(waiters))

	for _, cb := range waiters {
		cb(token)
	}

	if changed && onChanged != nil {
		onChanged(token)
	}
}

// OnRegistrationFailure logs the failure. Waiters stay queued until a
// later registration succeeds; there is no timeout on token waiters.
func (c *Coordinator) OnRegistrationFailure(err error) {
	c.mu.Lock()
	waiting := len(c.waiters)
	// Allow a future RequestToken to trigger registration again.
	c.registrationStarted = false
	c.mu.Unlock()

	log.Warn("push registration failed", "error", err, "waiters", waiting)
}

// Shutdown wipes the cached token.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token.Zero()
	c.haveToken = false
}
