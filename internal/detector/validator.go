package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/previewd/internal/errdefs"
	"github.com/loykin/previewd/internal/metrics"
)

const (
	// DefaultTolerance is the allowed distance between a recorded start time
	// and the start time the operating system reports.
	DefaultTolerance = 5 * time.Second
	// MaxTolerance caps any configured tolerance.
	MaxTolerance = 60 * time.Second
)

// InterpreterNames are the process names a development server is normally
// launched under. Matching is a case-insensitive substring test.
var InterpreterNames = []string{
	"node", "npm", "npx", "pnpm", "yarn", "bun", "deno",
	"python", "ruby", "php", "java", "dotnet", "go", "hugo", "vite",
}

// Rejection reasons reported by Check.
const (
	ReasonNotFound         = "not_found"
	ReasonOrphaned         = "orphaned"
	ReasonNameMismatch     = "name_mismatch"
	ReasonCommandMismatch  = "command_mismatch"
	ReasonStartTimeSkew    = "start_time_mismatch"
	ReasonInspectionFailed = "inspection_failed"
)

// Mode selects how strictly parentage is judged.
type Mode int

const (
	// ModeRecheck is used for processes we recorded ourselves. A process
	// that was reparented to init is still accepted.
	ModeRecheck Mode = iota
	// ModeDiscovery is used for processes found by port scanning. Orphans
	// are rejected.
	ModeDiscovery
)

// Expectation describes the process a PID is believed to identify.
type Expectation struct {
	StartedAt    time.Time
	NamePatterns []string
	Command      string
	Tolerance    time.Duration
}

// RejectError explains why a snapshot did not match an expectation.
type RejectError struct {
	PID    int
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("pid %d rejected: %s", e.PID, e.Reason)
	}
	return fmt.Sprintf("pid %d rejected: %s: %s", e.PID, e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error { return errdefs.ErrValidationRejected }

// Reason returns the rejection reason carried by err, or "" if err is not a
// rejection.
func Reason(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

func reject(snap *Snapshot, reason, detail string) error {
	return &RejectError{PID: snap.PID, Reason: reason, Detail: detail}
}

// Check validates snap against exp. It is a pure function; checks run in a
// fixed order and the first failure is returned.
func Check(snap *Snapshot, exp Expectation, mode Mode) error {
	if snap == nil {
		return &RejectError{Reason: ReasonNotFound}
	}
	if mode == ModeDiscovery && snap.PPID == 1 {
		return reject(snap, ReasonOrphaned, "parent is init")
	}
	if len(exp.NamePatterns) > 0 && !matchesName(snap.Name, exp.NamePatterns) {
		return reject(snap, ReasonNameMismatch, snap.Name)
	}
	if want := normalizeCmd(exp.Command); want != "" {
		if !strings.Contains(normalizeCmd(snap.Cmdline), want) {
			return reject(snap, ReasonCommandMismatch, snap.Cmdline)
		}
	}
	if !exp.StartedAt.IsZero() && !snap.StartTime.IsZero() {
		tol := clampTolerance(exp.Tolerance)
		skew := snap.StartTime.Sub(exp.StartedAt)
		if skew < 0 {
			skew = -skew
		}
		if skew > tol {
			return reject(snap, ReasonStartTimeSkew, fmt.Sprintf("skew %s exceeds %s", skew.Round(time.Millisecond), tol))
		}
	}
	return nil
}

func matchesName(name string, patterns []string) bool {
	n := strings.ToLower(name)
	for _, p := range patterns {
		if p != "" && strings.Contains(n, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func normalizeCmd(s string) string { return strings.Join(strings.Fields(s), " ") }

func clampTolerance(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTolerance
	}
	if d > MaxTolerance {
		return MaxTolerance
	}
	return d
}

// Validator runs Check against live processes.
type Validator struct {
	inspector Inspector
	tolerance time.Duration
	logger    *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

func WithInspector(i Inspector) Option { return func(v *Validator) { v.inspector = i } }

func WithTolerance(d time.Duration) Option {
	return func(v *Validator) { v.tolerance = clampTolerance(d) }
}

func WithLogger(l *slog.Logger) Option { return func(v *Validator) { v.logger = l } }

func NewValidator(opts ...Option) *Validator {
	v := &Validator{inspector: SystemInspector{}, tolerance: DefaultTolerance, logger: slog.Default()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Inspector returns the inspector the validator reads processes with.
func (v *Validator) Inspector() Inspector { return v.inspector }

// Validate inspects pid and checks it against exp. Rejections are counted
// by reason.
func (v *Validator) Validate(ctx context.Context, pid int, exp Expectation, mode Mode) (*Snapshot, error) {
	if exp.Tolerance <= 0 {
		exp.Tolerance = v.tolerance
	}
	snap, err := v.inspector.Inspect(ctx, pid)
	if err != nil {
		reason := ReasonInspectionFailed
		if errors.Is(err, ErrProcessNotFound) {
			reason = ReasonNotFound
		}
		metrics.IncValidationRejection(reason)
		return nil, &RejectError{PID: pid, Reason: reason, Detail: err.Error()}
	}
	if mode == ModeRecheck && snap.PPID == 1 {
		v.logger.Debug("recorded process reparented to init", "pid", pid)
	}
	if err := Check(snap, exp, mode); err != nil {
		metrics.IncValidationRejection(Reason(err))
		return snap, err
	}
	return snap, nil
}

// IsLive reports whether pid still identifies the recorded process. Any
// failure, including an inspection error, is treated as not live.
func (v *Validator) IsLive(ctx context.Context, pid int, exp Expectation) bool {
	_, err := v.Validate(ctx, pid, exp, ModeRecheck)
	if err != nil {
		if Reason(err) == ReasonInspectionFailed {
			v.logger.Warn("process inspection failed", "pid", pid, "err", err)
		}
		return false
	}
	return true
}
