//go:build windows

package detector

import (
	"os/user"
	"strings"
)

// OwnedByCurrentUser compares the process owner with the current account
// name. An unreadable owner counts as not owned.
func OwnedByCurrentUser(snap *Snapshot) bool {
	if snap == nil || snap.Username == "" {
		return false
	}
	u, err := user.Current()
	if err != nil {
		return false
	}
	return strings.EqualFold(snap.Username, u.Username)
}
