package event

import "strings"

// Identity derivations. Each returns a stable string used to deduplicate
// and silence notifications for the same logical alert source.

// Identity returns the dedup key for an execution block: the blocked
// file's content hash.
func (e *ExecutionEvent) Identity() string {
	return e.FileSHA256
}

// Identity returns the dedup key for a device block: the mount-from name.
func (e *DeviceEvent) Identity() string {
	return e.MountFromName
}

// Identity returns the dedup key for a file-access block. Rule version and
// name are included so a rule update re-notifies for the same path.
func (e *FileAccessEvent) Identity() string {
	return strings.Join([]string{e.RuleVersion, e.RuleName, e.AccessedPath}, "|")
}

// Identity returns the dedup key for a network-mount block: the mount-from name.
func (e *NetworkMountEvent) Identity() string {
	return e.MountFromName
}
