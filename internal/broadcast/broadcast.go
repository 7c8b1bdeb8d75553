// Package broadcast publishes a flat, schema-stable record of every
// blocked execution on a well-known datagram socket. Delivery is
// at-most-once and best-effort: with no listener the record is dropped.
// External tooling consumes these records even when the interactive
// notification is suppressed.
package broadcast

import (
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/wardensec/agent/internal/event"
	"github.com/wardensec/agent/internal/logging"
)

var log = logging.L("broadcast")

// EventName identifies blocked-execution records on the channel. The
// value is part of the public schema and must not change.
const EventName = "com.wardensec.agent.execution-blocked"

// ChainEntry is one signing-chain certificate in the public record.
type ChainEntry struct {
	SHA256             string `json:"sha256"`
	CommonName         string `json:"cn"`
	Organization       string `json:"org"`
	OrganizationalUnit string `json:"ou"`
	ValidFrom          int64  `json:"valid_from"`
	ValidUntil         int64  `json:"valid_until"`
}

// Record is the flattened public event. Field names are a stable schema
// consumed by external tooling; do not rename.
type Record struct {
	Event          string       `json:"event"`
	ID             string       `json:"id"`
	FileSHA256     string       `json:"file_sha256"`
	FilePath       string       `json:"file_path"`
	FileBundleID   string       `json:"file_bundle_id,omitempty"`
	FileBundleName string       `json:"file_bundle_name,omitempty"`
	FileBundlePath string       `json:"file_bundle_path,omitempty"`
	TeamID         string       `json:"team_id,omitempty"`
	SigningID      string       `json:"signing_id,omitempty"`
	ExecutingUser  string       `json:"executing_user"`
	OccurredAt     int64        `json:"occurred_at"`
	PID            int32        `json:"pid"`
	PPID           int32        `json:"ppid"`
	ParentName     string       `json:"parent_name,omitempty"`
	SigningChain   []ChainEntry `json:"signing_chain,omitempty"`
}

// Broadcaster emits records to the datagram socket at socketPath.
type Broadcaster struct {
	socketPath string
	sendFn     func(data []byte) error
}

// New creates a broadcaster publishing to socketPath.
func New(socketPath string) *Broadcaster {
	b := &Broadcaster{socketPath: socketPath}
	b.sendFn = b.sendDatagram
	return b
}

// Emit flattens ev into the public record and publishes it. Failures are
// logged and otherwise ignored: no listener is a normal condition.
func (b *Broadcaster) Emit(ev *event.ExecutionEvent) {
	rec := Flatten(ev)

	data, err := json.Marshal(rec)
	if err != nil {
		log.Error("marshal broadcast record", "error", err)
		return
	}

	if err := b.sendFn(data); err != nil {
		log.Debug("broadcast dropped", "error", err)
	}
}

func (b *Broadcaster) sendDatagram(data []byte) error {
	conn, err := net.DialTimeout("unixgram", b.socketPath, time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = conn.Write(data)
	return err
}

// Flatten converts an execution event into the public record, filling
// the parent process name from the local process table when the daemon
// did not supply one.
func Flatten(ev *event.ExecutionEvent) Record {
	rec := Record{
		Event:          EventName,
		ID:             uuid.NewString(),
		FileSHA256:     ev.FileSHA256,
		FilePath:       ev.FilePath,
		FileBundleID:   ev.FileBundleID,
		FileBundleName: ev.FileBundleName,
		FileBundlePath: ev.FileBundlePath,
		TeamID:         ev.TeamID,
		SigningID:      ev.SigningID,
		ExecutingUser:  ev.ExecutingUser,
		OccurredAt:     ev.OccurrenceDate.Unix(),
		PID:            ev.PID,
		PPID:           ev.PPID,
		ParentName:     ev.ParentName,
	}

	if rec.ParentName == "" && ev.PPID > 0 {
		rec.ParentName = parentProcessName(ev.PPID)
	}

	for _, c := range ev.SigningChain {
		rec.SigningChain = append(rec.SigningChain, ChainEntry{
			SHA256:             c.SHA256,
			CommonName:         c.CommonName,
			Organization:       c.Organization,
			OrganizationalUnit: c.OrganizationalUnit,
			ValidFrom:          c.ValidFrom.Unix(),
			ValidUntil:         c.ValidUntil.Unix(),
		})
	}

	return rec
}

// parentProcessName is a best-effort lookup; the parent may already be gone.
func parentProcessName(ppid int32) string {
	proc, err := process.NewProcess(ppid)
	if err != nil {
		return ""
	}
	name, err := proc.Name()
	if err != nil {
		return ""
	}
	return name
}
