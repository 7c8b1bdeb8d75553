//go:build windows

package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// Dial connects to a local IPC endpoint (named pipe).
func Dial(path string, timeout time.Duration) (net.Conn, error) {
	conn, err := winio.DialPipe(path, &timeout)
	if err != nil {
		return nil, fmt.Errorf("dial pipe %s: %w", path, err)
	}
	return conn, nil
}
