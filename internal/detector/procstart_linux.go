package detector

import (
	"os"
	"strconv"
	"time"

	"github.com/tklauser/go-sysconf"
)

// platformStart reads /proc directly. It resolves to clock-tick precision,
// finer than the millisecond CreateTime fallback rounds to.
func platformStart(pid int) time.Time {
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return time.Time{}
	}
	ticks, ok := parseStartTicks(string(stat))
	if !ok {
		return time.Time{}
	}
	f, err := os.Open("/proc/stat")
	if err != nil {
		return time.Time{}
	}
	defer func() { _ = f.Close() }()
	boot, ok := parseBootTime(f)
	if !ok {
		return time.Time{}
	}
	hz, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil {
		hz = 100
	}
	return ticksToTime(boot, ticks, hz)
}
