// Package detector decides whether a PID still identifies the process that
// was originally recorded. The decision itself (Check) is a pure function
// over a process Snapshot; Inspector implementations produce snapshots from
// the operating system.
package detector

import "fmt"

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// PIDDetector is an existence-only check on a PID. Lock-file recovery uses it
// because the lock file itself is the trust anchor there.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return pidAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
