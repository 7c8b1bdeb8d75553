package surface

import (
	"fmt"

	"github.com/wardensec/agent/internal/event"
)

// Announcer shows transient mode-change and rule-sync toasts. These bypass
// the notification queue: they carry no identity, are never deduplicated,
// and require no reply.
type Announcer struct {
	// SilentMode suppresses all announcements.
	SilentMode bool

	show func(t Toast) bool
}

// NewAnnouncer creates an announcer. silentMode suppresses all output.
func NewAnnouncer(silentMode bool) *Announcer {
	return &Announcer{
		SilentMode: silentMode,
		show:       showToastOS,
	}
}

// AnnounceClientMode shows the enforcement-mode change. An explicitly empty
// override suppresses the announcement entirely.
func (a *Announcer) AnnounceClientMode(mode event.ClientMode, customMessage string, overridden bool) {
	if a.SilentMode {
		return
	}
	if overridden && customMessage == "" {
		log.Debug("client mode announcement suppressed by empty override", "mode", mode)
		return
	}

	body := customMessage
	if body == "" {
		switch mode {
		case event.ClientModeMonitor:
			body = "Warden is switching into Monitor mode. Unknown applications will be allowed and logged."
		case event.ClientModeLockdown:
			body = "Warden is switching into Lockdown mode. Only approved applications will run."
		case event.ClientModeStandalone:
			body = "Warden is switching into Standalone mode. You can approve blocked applications yourself."
		default:
			body = fmt.Sprintf("Warden is switching into %s mode.", mode)
		}
	}

	if !a.show(Toast{Title: "Warden mode changed", Body: body, Urgency: "normal"}) {
		log.Warn("client mode announcement failed", "mode", mode)
	}
}

// AnnounceRuleSync shows that a rule allowing an application arrived via
// sync. Same override-suppression semantics as mode changes.
func (a *Announcer) AnnounceRuleSync(application string, customMessage string, overridden bool) {
	if a.SilentMode {
		return
	}
	if overridden && customMessage == "" {
		log.Debug("rule sync announcement suppressed by empty override", "application", application)
		return
	}

	body := customMessage
	if body == "" {
		body = fmt.Sprintf("%s can now be run.", application)
	}

	if !a.show(Toast{Title: "Application approved", Body: body, Urgency: "normal"}) {
		log.Warn("rule sync announcement failed", "application", application)
	}
}
