// Package surface renders queued notifications and announcements as
// desktop toasts. Toasts cannot collect an interactive silence choice, so
// the surface applies a configured silence interval when it retires a
// silenceable notification.
package surface

import (
	"time"

	"github.com/wardensec/agent/internal/logging"
	"github.com/wardensec/agent/internal/notifier"
)

var log = logging.L("surface")

// Toast is a single desktop notification.
type Toast struct {
	Title   string
	Body    string
	Urgency string
}

// Options configures the desktop surface.
type Options struct {
	// DisplayFor is how long a notification stays current before it is
	// dismissed and the next queued one is shown.
	DisplayFor time.Duration

	// SilenceFor is the interval passed to the dismiss callback for
	// silenceable notifications, suppressing re-notification for the same
	// identity. Zero disables silencing on dismiss.
	SilenceFor time.Duration
}

// DesktopSurface implements notifier.Surface on top of platform toasts.
type DesktopSurface struct {
	opts Options

	// show is swappable for tests; defaults to the platform implementation.
	show func(t Toast) bool
}

// New creates a desktop surface.
func New(opts Options) *DesktopSurface {
	if opts.DisplayFor <= 0 {
		opts.DisplayFor = 10 * time.Second
	}
	return &DesktopSurface{
		opts: opts,
		show: showToastOS,
	}
}

// Display renders req and schedules its dismissal. The dismiss callback
// fires exactly once per displayed request.
func (s *DesktopSurface) Display(req *notifier.Request, dismiss notifier.DismissFunc) {
	toast := renderRequest(req)

	if !s.show(toast) {
		log.Warn("toast delivery failed", "identity", req.Identity)
		dismiss(0)
		return
	}

	silenceFor := time.Duration(0)
	if req.AllowSilencing {
		silenceFor = s.opts.SilenceFor
	}

	time.AfterFunc(s.opts.DisplayFor, func() {
		dismiss(silenceFor)
	})
}

// BundleProgress logs enrichment progress; toasts cannot be updated in
// place.
func (s *DesktopSurface) BundleProgress(identity string, fraction float64, label string) {
	log.Debug("bundle progress", "identity", identity, "fraction", fraction, "label", label)
}

// BundleFinished reports the terminal bundle hash for the displayed
// notification.
func (s *DesktopSurface) BundleFinished(identity string, bundleHash string) {
	if bundleHash == "" {
		log.Debug("bundle identification failed", "identity", identity)
		return
	}
	log.Info("bundle identified", "identity", identity, "bundleHash", bundleHash)
}
