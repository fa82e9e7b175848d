package registry

import (
	"sort"
	"time"
)

type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Source records how a server came to be tracked.
type Source string

const (
	// SourceManaged servers were spawned by a supervisor instance.
	SourceManaged Source = "managed"
	// SourceDiscovered servers were found by scanning and matched to a known project.
	SourceDiscovered Source = "discovered"
	// SourceExternal servers were found by scanning with no project match.
	SourceExternal Source = "external"
)

// ServerRecord is one tracked dev server. PID 0 means unknown.
type ServerRecord struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	ProjectName   string    `json:"project_name,omitempty"`
	ProjectRoot   string    `json:"project_root"`
	Port          int       `json:"port"`
	PID           int       `json:"pid,omitempty"`
	Status        Status    `json:"status"`
	PreviewURL    string    `json:"preview_url,omitempty"`
	FrameworkName string    `json:"framework_name,omitempty"`
	ActualCommand string    `json:"actual_command,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastSeen      time.Time `json:"last_seen"`
	APIPort       int       `json:"api_port"`
	Source        Source    `json:"source"`
}

type identity struct {
	id     string
	status Status
	port   int
}

// Equivalent reports whether a and b hold the same (id, status, port)
// tuples regardless of order. Descriptive fields are ignored.
func Equivalent(a, b []ServerRecord) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[identity]int, len(a))
	for _, r := range a {
		counts[identity{r.ID, r.Status, r.Port}]++
	}
	for _, r := range b {
		k := identity{r.ID, r.Status, r.Port}
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}

func sortRecords(recs []ServerRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.Before(recs[j].StartedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
