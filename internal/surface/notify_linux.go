//go:build linux

package surface

import "os/exec"

// showToastOS uses notify-send for desktop notifications on Linux.
// A production build would speak D-Bus org.freedesktop.Notifications directly.
func showToastOS(t Toast) bool {
	args := []string{"-a", "Warden"}
	if t.Urgency != "" {
		args = append(args, "-u", t.Urgency)
	}
	args = append(args, t.Title, t.Body)

	cmd := exec.Command("notify-send", args...)
	if err := cmd.Run(); err != nil {
		log.Warn("toast failed", "error", err)
		return false
	}
	return true
}
