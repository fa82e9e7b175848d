package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSniffPort(t *testing.T) {
	cases := []struct {
		line string
		port int
		ok   bool
	}{
		{"  ➜  Local:   http://localhost:5174/", 5174, true},
		{"ready - started server on 0.0.0.0:3000, url: http://localhost:3000", 3000, true},
		{"Serving HTTP on 127.0.0.1 port 8001 (http://127.0.0.1:8001/) ...", 8001, true},
		{"Listening on port 8080", 8080, true},
		{"Server listening at :4321", 4321, true},
		{"Server running on 4005", 4005, true},
		{"Starting development server at http://[::1]:8000/", 8000, true},
		{"dev server port: 4100", 4100, true},
		{"Listening on port 80", 0, false},
		{"compiled successfully in 120ms", 0, false},
		{"open https://example.com:8443 in a browser", 0, false},
		{"[HPM] Proxy created: /api  -> http://localhost:8080", 0, false},
		{"proxying /graphql to http://127.0.0.1:4000", 0, false},
		{"Port 5173 is in use, trying another one...", 0, false},
		{"Something is already running on port 3000.", 0, false},
		{"Error: listen EADDRINUSE: address already in use :::3000", 0, false},
		{`127.0.0.1 - - [19/Oct/2026 10:00:00] "GET http://localhost:9000/ HTTP/1.1" 200 -`, 0, false},
	}
	for _, tc := range cases {
		port, ok := sniffPort(stripANSI(tc.line))
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.port, port, tc.line)
	}
}

func TestSniffPortStripsANSI(t *testing.T) {
	line := "\x1b[32m➜\x1b[39m  \x1b[1mLocal\x1b[22m:   \x1b[36mhttp://localhost:\x1b[1m5180\x1b[22m/\x1b[39m"
	port, ok := sniffPort(stripANSI(line))
	assert.True(t, ok)
	assert.Equal(t, 5180, port)
}

func TestIsAccessLog(t *testing.T) {
	assert.True(t, isAccessLog(`127.0.0.1 - - [19/Oct/2026 10:00:00] "GET /index.html HTTP/1.1" 200 -`))
	assert.True(t, isAccessLog(`::1 - - [19/Oct/2026 10:00:00] "GET /app.js HTTP/1.1" 304 -`))
	assert.False(t, isAccessLog(`127.0.0.1 - - [19/Oct/2026 10:00:00] "GET /missing HTTP/1.1" 404 -`))
	assert.False(t, isAccessLog("Error: Cannot find module 'vite'"))
}
