//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"time"
)

// Dial connects to a local IPC endpoint (unix socket).
func Dial(path string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", path, err)
	}
	return conn, nil
}
