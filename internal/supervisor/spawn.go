package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/env"
	"github.com/loykin/previewd/internal/errdefs"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/registry"
)

const maxLineBytes = 1 << 20

func (s *Supervisor) spawn(ctx context.Context, e *devServer, argv []string) (Info, error) {
	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 -- argv comes from project detection
	cmd.Dir = e.root
	cmd.Env = s.childEnv(e.root, e.port)
	configureSysProcAttr(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failStart(e, errdefs.WrapErr(errdefs.ErrSpawnFailure, err, "stdout pipe"))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.failStart(e, errdefs.WrapErr(errdefs.ErrSpawnFailure, err, "stderr pipe"))
	}
	s.mu.Lock()
	e.command = strings.Join(argv, " ")
	s.mu.Unlock()
	if err := cmd.Start(); err != nil {
		return s.failStart(e, errdefs.WrapErr(errdefs.ErrSpawnFailure, err, "start %s", argv[0]))
	}

	s.mu.Lock()
	e.pid = cmd.Process.Pid
	e.cmd = cmd
	e.done = make(chan struct{})
	e.status = registry.StatusRunning
	lock := e.lockRecord()
	rec := s.infoLocked(e).ServerRecord
	s.mu.Unlock()

	if err := writeLock(s.cfg.LockDir, lock); err != nil {
		s.abort(cmd)
		return s.failStart(e, err)
	}
	rec.ID = ""
	stored, err := s.registry.Register(rec)
	if err != nil {
		s.abort(cmd)
		_ = removeLock(s.cfg.LockDir, e.projectID)
		return s.failStart(e, err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	e.recordID = stored.ID
	e.cancel = cancel
	if w := s.cfg.LogFiles.Writer(fileKey(e.projectID)); w != nil {
		e.logFile = w
	}
	info := s.infoLocked(e)
	hrec := s.historyRecordLocked(e)
	s.mu.Unlock()

	go s.watch(rctx, e, cmd, stdout, stderr)

	metrics.IncServerStart(true)
	s.history.Emit(ctx, history.EventServerStart, hrec)
	s.logger.Info("dev server started", "project", e.projectID, "pid", info.PID, "port", info.Port, "cmd", info.ActualCommand)
	return info, nil
}

// childEnv layers the project's .env files and the dev-server overrides on
// top of the daemon environment.
func (s *Supervisor) childEnv(root string, port int) []string {
	dotenv, err := env.LoadProjectEnv(root)
	if err != nil {
		s.logger.Warn("ignoring project env files", "root", root, "err", err)
		dotenv = nil
	}
	return env.Compose(os.Environ(), []string{env.DaemonMarker}, dotenv, env.Var{
		"PORT":     strconv.Itoa(port),
		"HOST":     "127.0.0.1",
		"BROWSER":  "none",
		"NODE_ENV": "development",
	})
}

// abort kills a child that was spawned but could not be recorded.
func (s *Supervisor) abort(cmd *exec.Cmd) {
	_ = kill(cmd.Process.Pid)
	_ = cmd.Wait()
}

// watch drains both pipes, then reaps the child.
func (s *Supervisor) watch(ctx context.Context, e *devServer, cmd *exec.Cmd, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.consume(ctx, e, stdout, StreamStdout) }()
	go func() { defer wg.Done(); s.consume(ctx, e, stderr, StreamStderr) }()
	wg.Wait()
	err := cmd.Wait()
	s.exited(e, err)
	close(e.done)
}

// consume reads r line by line until EOF. After ctx is cancelled lines are
// still drained so the child never blocks on a full pipe, but are dropped.
func (s *Supervisor) consume(ctx context.Context, e *devServer, r io.Reader, stream Stream) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if ctx.Err() != nil {
			continue
		}
		s.handleLine(e, stream, stripANSI(sc.Text()))
	}
	_, _ = io.Copy(io.Discard, r)
}

func (s *Supervisor) handleLine(e *devServer, stream Stream, text string) {
	access := isAccessLog(text)
	if access && stream == StreamStderr {
		stream = StreamInfo
	}
	line := LogLine{Time: s.now(), Stream: stream, Text: text}
	e.logs.add(line)
	metrics.IncLogLine(string(stream))

	s.mu.Lock()
	if access {
		e.lastActivity = line.Time
	}
	w := e.logFile
	s.mu.Unlock()
	if w != nil {
		_, _ = fmt.Fprintf(w, "%s %s %s\n", line.Time.Format("2006-01-02T15:04:05.000Z07:00"), stream, text)
	}

	if p, ok := sniffPort(text); ok {
		s.portChanged(e, p)
	}
}

// portChanged follows a server that bound a different port than requested.
// The announced port is taken only once the server is seen holding it.
func (s *Supervisor) portChanged(e *devServer, port int) {
	s.mu.RLock()
	pid, cur, running := e.pid, e.port, e.status == registry.StatusRunning
	s.mu.RUnlock()
	if !running || cur == port {
		return
	}
	if !s.servesPort(context.Background(), pid, port) {
		s.logger.Debug("ignoring port the dev server does not hold", "project", e.projectID, "pid", pid, "port", port)
		return
	}

	e.fileMu.Lock()
	defer e.fileMu.Unlock()

	s.mu.Lock()
	if e.status != registry.StatusRunning || e.pid != pid || e.port == port {
		s.mu.Unlock()
		return
	}
	old := e.port
	e.port = port
	e.previewURL = previewURL(port)
	lock := e.lockRecord()
	id, url := e.recordID, e.previewURL
	rec := s.historyRecordLocked(e)
	s.mu.Unlock()

	s.logger.Info("dev server port changed", "project", e.projectID, "from", old, "to", port)
	metrics.IncPortChange()
	if err := writeLock(s.cfg.LockDir, lock); err != nil {
		s.logger.Warn("failed to update lock file", "project", e.projectID, "err", err)
	}
	if id != "" {
		if err := s.registry.UpdatePort(id, port, url); err != nil {
			s.logger.Warn("failed to update registry port", "project", e.projectID, "err", err)
		}
	}
	rec.Detail = fmt.Sprintf("%d -> %d", old, port)
	s.history.Emit(context.Background(), history.EventPortChange, rec)
}

// exited finalizes a server whose process ended. Exits caused by Stop are
// left to Stop.
func (s *Supervisor) exited(e *devServer, waitErr error) {
	s.mu.Lock()
	w := e.logFile
	e.logFile = nil
	if e.stopping || !e.active() {
		s.mu.Unlock()
		closeQuiet(w)
		return
	}
	if waitErr != nil && !isSignalExit(waitErr) {
		e.status = registry.StatusError
		e.lastErr = waitErr.Error()
	} else {
		e.status = registry.StatusStopped
	}
	id := e.recordID
	e.recordID = ""
	rec := s.historyRecordLocked(e)
	rec.ServerID = id
	pid := e.pid
	e.pid = 0
	s.mu.Unlock()
	closeQuiet(w)

	s.logger.Warn("dev server exited", "project", e.projectID, "err", waitErr)
	e.fileMu.Lock()
	if err := removeLockOf(s.cfg.LockDir, e.projectID, pid); err != nil {
		s.logger.Warn("failed to remove lock file", "project", e.projectID, "err", err)
	}
	if id != "" {
		if err := s.registry.Unregister(id); err != nil {
			s.logger.Warn("failed to unregister exited server", "project", e.projectID, "err", err)
		}
	}
	e.fileMu.Unlock()
	metrics.ForgetServer(e.projectID)
	s.history.Emit(context.Background(), history.EventServerExit, rec)
}

func isSignalExit(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee) && ee.ExitCode() == -1
}

func closeQuiet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// pidAlive is the cheap existence check used while waiting for a signalled
// process to exit.
func pidAlive(pid int) bool {
	alive, _ := detector.PIDDetector{PID: pid}.Alive()
	return alive
}
