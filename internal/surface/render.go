package surface

import (
	"fmt"
	"strings"

	"github.com/wardensec/agent/internal/notifier"
)

// renderRequest builds the toast for a queued block notification. A
// daemon-configured custom message replaces the default explanation but the
// subject line always identifies what was blocked.
func renderRequest(req *notifier.Request) Toast {
	switch req.Kind {
	case notifier.KindExecutionBlock:
		return renderExecution(req)
	case notifier.KindDeviceBlock:
		return renderDevice(req)
	case notifier.KindFileAccessBlock:
		return renderFileAccess(req)
	case notifier.KindNetworkMountBlock:
		return renderNetworkMount(req)
	default:
		return Toast{Title: "Warden", Body: "Blocked activity detected.", Urgency: "critical"}
	}
}

func renderExecution(req *notifier.Request) Toast {
	ev := req.Execution

	subject := ev.FileBundleName
	if subject == "" {
		subject = ev.FilePath
	}

	var b strings.Builder
	if req.CustomMessage != "" {
		b.WriteString(req.CustomMessage)
	} else {
		b.WriteString("The application below was blocked from running.")
	}
	fmt.Fprintf(&b, "\nPath: %s", ev.FilePath)
	fmt.Fprintf(&b, "\nSHA-256: %s", ev.FileSHA256)
	if ev.TeamID != "" {
		fmt.Fprintf(&b, "\nPublisher: %s", ev.TeamID)
	}
	if ev.ExecutingUser != "" {
		fmt.Fprintf(&b, "\nUser: %s", ev.ExecutingUser)
	}
	if req.CustomURL != "" {
		fmt.Fprintf(&b, "\nMore info: %s", req.CustomURL)
	} else if req.ConfigState.EventDetailURL != "" {
		fmt.Fprintf(&b, "\nMore info: %s", req.ConfigState.EventDetailURL)
	}

	return Toast{
		Title:   fmt.Sprintf("Blocked: %s", subject),
		Body:    b.String(),
		Urgency: "critical",
	}
}

func renderDevice(req *notifier.Request) Toast {
	ev := req.Device

	body := fmt.Sprintf("Mounting %s was blocked by policy.", ev.MountFromName)
	if ev.Remounted {
		body = fmt.Sprintf("%s was remounted with restricted permissions (%s).",
			ev.MountFromName, strings.Join(ev.RemountArgs, ", "))
	}

	return Toast{
		Title:   "Removable device blocked",
		Body:    body,
		Urgency: "normal",
	}
}

func renderFileAccess(req *notifier.Request) Toast {
	ev := req.FileAccess

	var b strings.Builder
	if req.CustomMessage != "" {
		b.WriteString(req.CustomMessage)
	} else {
		b.WriteString("Access to a protected file was blocked.")
	}
	fmt.Fprintf(&b, "\nFile: %s", ev.AccessedPath)
	if ev.ProcessPath != "" {
		fmt.Fprintf(&b, "\nProcess: %s", ev.ProcessPath)
	}
	fmt.Fprintf(&b, "\nRule: %s", ev.RuleName)
	if req.CustomText != "" {
		fmt.Fprintf(&b, "\n%s", req.CustomText)
	}

	return Toast{
		Title:   "File access blocked",
		Body:    b.String(),
		Urgency: "critical",
	}
}

func renderNetworkMount(req *notifier.Request) Toast {
	ev := req.NetworkMount

	body := fmt.Sprintf("Mounting %s was blocked by policy.", ev.MountFromName)
	if ev.Server != "" && ev.Share != "" {
		body = fmt.Sprintf("Mounting %s from %s (%s) was blocked by policy.",
			ev.Share, ev.Server, ev.Protocol)
	}

	return Toast{
		Title:   "Network mount blocked",
		Body:    body,
		Urgency: "normal",
	}
}
