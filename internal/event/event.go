// Package event defines the blocked-event payloads posted by the Warden
// daemon and the identity derivation used for deduplication and silencing.
package event

import "time"

// SigningChainEntry is one certificate in an executable's signing chain,
// leaf first.
type SigningChainEntry struct {
	SHA256             string    `json:"sha256"`
	CommonName         string    `json:"commonName"`
	Organization       string    `json:"organization"`
	OrganizationalUnit string    `json:"organizationalUnit"`
	ValidFrom          time.Time `json:"validFrom"`
	ValidUntil         time.Time `json:"validUntil"`
}

// ExecutionEvent describes a blocked binary execution.
type ExecutionEvent struct {
	FileSHA256     string    `json:"fileSha256"`
	FilePath       string    `json:"filePath"`
	OccurrenceDate time.Time `json:"occurrenceDate"`

	FileBundleID      string `json:"fileBundleId,omitempty"`
	FileBundleName    string `json:"fileBundleName,omitempty"`
	FileBundlePath    string `json:"fileBundlePath,omitempty"`
	FileBundleVersion string `json:"fileBundleVersion,omitempty"`

	// Bundle hash enrichment, populated after bundle identification.
	FileBundleHash        string `json:"fileBundleHash,omitempty"`
	FileBundleBinaryCount int    `json:"fileBundleBinaryCount,omitempty"`
	FileBundleHashMillis  int64  `json:"fileBundleHashMillis,omitempty"`

	TeamID    string `json:"teamId,omitempty"`
	SigningID string `json:"signingId,omitempty"`
	CDHash    string `json:"cdHash,omitempty"`

	ExecutingUser string `json:"executingUser"`
	PID           int32  `json:"pid"`
	PPID          int32  `json:"ppid"`
	ParentName    string `json:"parentName,omitempty"`

	SigningChain []SigningChainEntry `json:"signingChain,omitempty"`
}

// DeviceEvent describes a blocked removable-media mount.
type DeviceEvent struct {
	MountFromName  string    `json:"mountFromName"`
	BSDName        string    `json:"bsdName,omitempty"`
	Remounted      bool      `json:"remounted"`
	RemountArgs    []string  `json:"remountArgs,omitempty"`
	OccurrenceDate time.Time `json:"occurrenceDate"`
}

// FileAccessEvent describes a blocked protected-file access.
type FileAccessEvent struct {
	RuleVersion    string    `json:"ruleVersion"`
	RuleName       string    `json:"ruleName"`
	AccessedPath   string    `json:"accessedPath"`
	ProcessPath    string    `json:"processPath,omitempty"`
	ProcessSHA256  string    `json:"processSha256,omitempty"`
	ExecutingUser  string    `json:"executingUser,omitempty"`
	PID            int32     `json:"pid,omitempty"`
	OccurrenceDate time.Time `json:"occurrenceDate"`
}

// NetworkMountEvent describes a blocked network filesystem mount.
type NetworkMountEvent struct {
	MountFromName  string    `json:"mountFromName"`
	Server         string    `json:"server,omitempty"`
	Share          string    `json:"share,omitempty"`
	Protocol       string    `json:"protocol,omitempty"`
	OccurrenceDate time.Time `json:"occurrenceDate"`
}

// ClientMode is the daemon's enforcement mode.
type ClientMode string

const (
	ClientModeMonitor    ClientMode = "monitor"
	ClientModeLockdown   ClientMode = "lockdown"
	ClientModeStandalone ClientMode = "standalone"
)

// ConfigState is a snapshot of daemon configuration carried with a post.
// The queue treats it as opaque; the surface uses it for rendering and
// the standalone-mode approval gate.
type ConfigState struct {
	ClientMode                 ClientMode `json:"clientMode"`
	EnableNotificationSilences bool       `json:"enableNotificationSilences"`
	EnableBundles              bool       `json:"enableBundles"`
	EventDetailURL             string     `json:"eventDetailUrl,omitempty"`
	EventDetailText            string     `json:"eventDetailText,omitempty"`
}
