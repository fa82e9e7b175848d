package detector

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// procStart returns when pid was started. The zero time means unknown, in
// which case start-time validation is skipped.
func procStart(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	if t := platformStart(pid); !t.IsZero() {
		return t
	}
	p, err := gopsproc.NewProcess(int32(pid)) // #nosec G115 -- pids fit in 32 bits
	if err != nil {
		return time.Time{}
	}
	if ms, err := p.CreateTime(); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// parseStartTicks returns field 22 (starttime) of a /proc/<pid>/stat line.
// comm (field 2) may hold spaces and parentheses, so fields are counted
// from the last ") ".
func parseStartTicks(line string) (int64, bool) {
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, false
	}
	rest := strings.Fields(line[i+2:])
	// rest[0] is field 3 (state)
	const idx = 22 - 3
	if len(rest) <= idx {
		return 0, false
	}
	ticks, err := strconv.ParseInt(rest[idx], 10, 64)
	if err != nil || ticks <= 0 {
		return 0, false
	}
	return ticks, true
}

// parseBootTime returns the btime line of /proc/stat in Unix seconds.
func parseBootTime(r io.Reader) (int64, bool) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		v, ok := strings.CutPrefix(sc.Text(), "btime ")
		if !ok {
			continue
		}
		bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return bt, err == nil && bt > 0
	}
	return 0, false
}

// ticksToTime converts clock ticks since boot into wall time.
func ticksToTime(boot, ticks, hz int64) time.Time {
	if hz <= 0 {
		hz = 100
	}
	whole := ticks / hz
	frac := time.Duration(ticks%hz) * time.Second / time.Duration(hz)
	return time.Unix(boot+whole, 0).Add(frac)
}
