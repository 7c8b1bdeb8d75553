package surface

import (
	"strings"
	"testing"
	"time"

	"github.com/wardensec/agent/internal/event"
	"github.com/wardensec/agent/internal/notifier"
)

func execRequest(allowSilencing bool) *notifier.Request {
	return &notifier.Request{
		Kind:     notifier.KindExecutionBlock,
		Identity: "abc123",
		Execution: &event.ExecutionEvent{
			FileSHA256:     "abc123",
			FilePath:       "/usr/local/bin/evil",
			FileBundleName: "Evil",
			TeamID:         "TEAM123",
			ExecutingUser:  "alice",
		},
		AllowSilencing: allowSilencing,
	}
}

func TestDisplayDismissesWithSilenceInterval(t *testing.T) {
	s := New(Options{
		DisplayFor: 10 * time.Millisecond,
		SilenceFor: time.Hour,
	})

	shown := make(chan Toast, 1)
	s.show = func(toast Toast) bool {
		shown <- toast
		return true
	}

	dismissed := make(chan time.Duration, 1)
	s.Display(execRequest(true), func(silenceFor time.Duration) {
		dismissed <- silenceFor
	})

	select {
	case toast := <-shown:
		if toast.Title != "Blocked: Evil" {
			t.Fatalf("Title = %q", toast.Title)
		}
	case <-time.After(time.Second):
		t.Fatal("toast never shown")
	}

	select {
	case silenceFor := <-dismissed:
		if silenceFor != time.Hour {
			t.Fatalf("silenceFor = %v, want 1h", silenceFor)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dismiss never fired")
	}
}

func TestDisplayNeverSilencesUnsilenceable(t *testing.T) {
	s := New(Options{
		DisplayFor: 10 * time.Millisecond,
		SilenceFor: time.Hour,
	})
	s.show = func(Toast) bool { return true }

	dismissed := make(chan time.Duration, 1)
	s.Display(execRequest(false), func(silenceFor time.Duration) {
		dismissed <- silenceFor
	})

	select {
	case silenceFor := <-dismissed:
		if silenceFor != 0 {
			t.Fatalf("silenceFor = %v, want 0", silenceFor)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dismiss never fired")
	}
}

func TestDeliveryFailureStillDismisses(t *testing.T) {
	s := New(Options{DisplayFor: time.Minute, SilenceFor: time.Hour})
	s.show = func(Toast) bool { return false }

	dismissed := make(chan time.Duration, 1)
	s.Display(execRequest(true), func(silenceFor time.Duration) {
		dismissed <- silenceFor
	})

	// A failed toast must not hold the queue for the display interval,
	// and must not record a silence the user never saw.
	select {
	case silenceFor := <-dismissed:
		if silenceFor != 0 {
			t.Fatalf("silenceFor = %v, want 0", silenceFor)
		}
	case <-time.After(time.Second):
		t.Fatal("dismiss never fired after delivery failure")
	}
}

func TestRenderExecutionBody(t *testing.T) {
	req := execRequest(true)
	req.CustomMessage = "Contact IT to request access."
	req.CustomURL = "https://example.com/evt"

	toast := renderRequest(req)

	for _, want := range []string{
		"Contact IT to request access.",
		"/usr/local/bin/evil",
		"abc123",
		"TEAM123",
		"alice",
		"https://example.com/evt",
	} {
		if !strings.Contains(toast.Body, want) {
			t.Errorf("body missing %q:\n%s", want, toast.Body)
		}
	}
}

func TestRenderFileAccess(t *testing.T) {
	toast := renderRequest(&notifier.Request{
		Kind:     notifier.KindFileAccessBlock,
		Identity: "v1|keychain|/Users/alice/secret",
		FileAccess: &event.FileAccessEvent{
			RuleVersion:  "v1",
			RuleName:     "keychain",
			AccessedPath: "/Users/alice/secret",
			ProcessPath:  "/bin/cat",
		},
		CustomText: "This access attempt has been reported.",
	})

	if toast.Title != "File access blocked" {
		t.Fatalf("Title = %q", toast.Title)
	}
	for _, want := range []string{"/Users/alice/secret", "/bin/cat", "keychain", "reported"} {
		if !strings.Contains(toast.Body, want) {
			t.Errorf("body missing %q:\n%s", want, toast.Body)
		}
	}
}

func TestAnnouncerSuppression(t *testing.T) {
	tests := []struct {
		name       string
		silent     bool
		message    string
		overridden bool
		wantShown  bool
		wantBody   string
	}{
		{name: "default message", wantShown: true, wantBody: "Lockdown"},
		{name: "custom message", message: "Policy tightened.", overridden: true, wantShown: true, wantBody: "Policy tightened."},
		{name: "explicit empty override suppresses", message: "", overridden: true, wantShown: false},
		{name: "silent mode suppresses", silent: true, wantShown: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnnouncer(tt.silent)

			var shown *Toast
			a.show = func(toast Toast) bool {
				shown = &toast
				return true
			}

			a.AnnounceClientMode(event.ClientModeLockdown, tt.message, tt.overridden)

			if tt.wantShown != (shown != nil) {
				t.Fatalf("shown = %v, want %v", shown != nil, tt.wantShown)
			}
			if shown != nil && !strings.Contains(shown.Body, tt.wantBody) {
				t.Fatalf("body = %q, want substring %q", shown.Body, tt.wantBody)
			}
		})
	}
}

func TestAnnounceRuleSyncDefaultMessage(t *testing.T) {
	a := NewAnnouncer(false)

	var shown Toast
	a.show = func(toast Toast) bool {
		shown = toast
		return true
	}

	a.AnnounceRuleSync("Example.app", "", false)

	if !strings.Contains(shown.Body, "Example.app") {
		t.Fatalf("body = %q", shown.Body)
	}
}
