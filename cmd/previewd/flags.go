package main

import "time"

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// StartFlags holds flags for the start command
type StartFlags struct {
	Project string
	Root    string
	Port    int
}

// LogsFlags holds flags for the logs command
type LogsFlags struct {
	Project string
	Since   time.Duration
	Limit   int
}

// ListFlags holds flags for the list command
type ListFlags struct {
	JSON bool
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}
