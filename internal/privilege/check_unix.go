//go:build !windows

// Package privilege guards the process boundary: the notifier is a
// per-user agent and must not run with daemon privileges.
package privilege

import "os"

// IsRunningAsRoot returns true if the process is running with UID 0.
func IsRunningAsRoot() bool {
	return os.Getuid() == 0
}
