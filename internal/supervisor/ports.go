package supervisor

import (
	"hash/fnv"
	"net"
	"strconv"
)

const (
	DefaultPortMin = 4000
	DefaultPortMax = 4999
)

// preferredPort hashes projectID into [lo, hi] so a project tends to get
// the same port across restarts.
func preferredPort(projectID string, lo, hi int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(projectID))
	return lo + int(h.Sum32()%uint32(hi-lo+1))
}

// pickPort walks [lo, hi] from preferred, wrapping once, and returns the
// first port busy does not reject.
func pickPort(preferred, lo, hi int, busy func(int) bool) (int, bool) {
	span := hi - lo + 1
	if preferred < lo || preferred > hi {
		preferred = lo
	}
	for i := 0; i < span; i++ {
		p := lo + (preferred-lo+i)%span
		if !busy(p) {
			return p, true
		}
	}
	return 0, false
}

// portFree reports whether nothing is listening on the loopback port.
func portFree(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
