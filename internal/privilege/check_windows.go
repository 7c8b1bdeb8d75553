//go:build windows

package privilege

import "golang.org/x/sys/windows"

// IsRunningAsRoot returns true if the process token is elevated. The
// notifier runs in the interactive user session, not as a service.
func IsRunningAsRoot() bool {
	var token windows.Token
	proc := windows.CurrentProcess()
	if err := windows.OpenProcessToken(proc, windows.TOKEN_QUERY, &token); err != nil {
		return false
	}
	defer token.Close()
	return token.IsElevated()
}
