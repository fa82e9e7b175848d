//go:build !windows

package detector

import "os"

// OwnedByCurrentUser reports whether the snapshot's real UID is ours.
// An unreadable UID list counts as not owned.
func OwnedByCurrentUser(snap *Snapshot) bool {
	if snap == nil || len(snap.UIDs) == 0 {
		return false
	}
	return int(snap.UIDs[0]) == os.Getuid()
}
