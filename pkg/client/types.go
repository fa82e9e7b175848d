package client

import "time"

// StartRequest is the body of POST /servers/:project/start.
type StartRequest struct {
	Root string `json:"root"`
	Port int    `json:"port,omitempty"`
}

// Server mirrors a registry record as served by the daemon.
type Server struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	ProjectName   string    `json:"project_name,omitempty"`
	ProjectRoot   string    `json:"project_root"`
	Port          int       `json:"port"`
	PID           int       `json:"pid,omitempty"`
	Status        string    `json:"status"`
	PreviewURL    string    `json:"preview_url,omitempty"`
	FrameworkName string    `json:"framework_name,omitempty"`
	ActualCommand string    `json:"actual_command,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastSeen      time.Time `json:"last_seen"`
	APIPort       int       `json:"api_port"`
	Source        string    `json:"source"`
}

// ServerStatus is a Server plus supervisor-only state.
type ServerStatus struct {
	Server
	Error        string    `json:"error,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// LogLine is one captured output line. Stream is stdout, stderr or info.
type LogLine struct {
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// LogsResponse is the body of GET /servers/:project/logs.
type LogsResponse struct {
	Project string    `json:"project"`
	Lines   []LogLine `json:"lines"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
