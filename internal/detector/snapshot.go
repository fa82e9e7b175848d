package detector

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ErrProcessNotFound is returned by an Inspector when no live process has
// the requested PID. Zombies count as not found.
var ErrProcessNotFound = errors.New("process not found")

// Snapshot is what the operating system reports about a PID at one moment.
// Fields that could not be read are left at their zero value.
type Snapshot struct {
	PID       int
	PPID      int
	Name      string
	Cmdline   string
	StartTime time.Time
	UIDs      []uint32
	Username  string
	Cwd       string
}

// Inspector reads process snapshots from the operating system.
type Inspector interface {
	Inspect(ctx context.Context, pid int) (*Snapshot, error)
}

// InspectorFunc adapts a function to the Inspector interface.
type InspectorFunc func(ctx context.Context, pid int) (*Snapshot, error)

func (f InspectorFunc) Inspect(ctx context.Context, pid int) (*Snapshot, error) { return f(ctx, pid) }

// MaxLineage bounds parent walks.
const MaxLineage = 32

// Lineage returns pid followed by its ancestors, nearest first. The walk
// stops before init and at the first process that cannot be inspected.
func Lineage(ctx context.Context, insp Inspector, pid int) []int {
	var out []int
	for len(out) < MaxLineage && pid > 1 {
		out = append(out, pid)
		snap, err := insp.Inspect(ctx, pid)
		if err != nil {
			break
		}
		pid = snap.PPID
	}
	return out
}

// SystemInspector inspects live processes through gopsutil.
type SystemInspector struct{}

func (SystemInspector) Inspect(ctx context.Context, pid int) (*Snapshot, error) {
	if pid <= 0 {
		return nil, ErrProcessNotFound
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return nil, ErrProcessNotFound
		}
		return nil, err
	}
	if st, err := p.StatusWithContext(ctx); err == nil && slices.Contains(st, gopsproc.Zombie) {
		return nil, ErrProcessNotFound
	}

	snap := &Snapshot{PID: pid, StartTime: procStart(pid)}
	if ppid, err := p.PpidWithContext(ctx); err == nil {
		snap.PPID = int(ppid)
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		snap.Name = name
	} else if !pidAlive(pid) {
		return nil, ErrProcessNotFound
	}
	if cmd, err := p.CmdlineSliceWithContext(ctx); err == nil {
		snap.Cmdline = strings.Join(cmd, " ")
	}
	if uids, err := p.UidsWithContext(ctx); err == nil {
		snap.UIDs = uids
	}
	if user, err := p.UsernameWithContext(ctx); err == nil {
		snap.Username = user
	}
	if cwd, err := p.CwdWithContext(ctx); err == nil {
		snap.Cwd = cwd
	}
	return snap, nil
}
