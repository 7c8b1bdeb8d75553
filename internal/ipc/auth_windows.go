//go:build windows

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/windows"
)

// PeerCredentials holds the verified identity of an IPC peer.
type PeerCredentials struct {
	PID        int
	UID        uint32
	SID        string
	BinaryPath string
}

// GetPeerCredentials resolves the server process behind a named pipe
// connection. Access control is otherwise enforced by the pipe's security
// descriptor, which only the daemon's service account can satisfy.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	type fdConn interface{ Fd() uintptr }
	fc, ok := conn.(fdConn)
	if !ok {
		return nil, fmt.Errorf("ipc: connection does not expose a handle")
	}

	var pid uint32
	if err := windows.GetNamedPipeServerProcessId(windows.Handle(fc.Fd()), &pid); err != nil {
		return nil, fmt.Errorf("ipc: GetNamedPipeServerProcessId: %w", err)
	}

	return &PeerCredentials{PID: int(pid)}, nil
}

// IsPrivileged is best-effort on Windows; the pipe ACL is the real gate.
func (p *PeerCredentials) IsPrivileged() bool {
	return true
}

// IdentityKey returns the platform identity key for this peer.
func (p *PeerCredentials) IdentityKey() string {
	if p.SID != "" {
		return p.SID
	}
	return fmt.Sprintf("pid-%d", p.PID)
}
