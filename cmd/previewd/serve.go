package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loykin/previewd"
	"github.com/loykin/previewd/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	pidFile := f.PidFile
	if pidFile == "" {
		pidFile = filepath.Join(cfg.DataDir, "previewd.pid")
	}
	if f.Daemonize && os.Getenv(daemonChildEnv) == "" {
		pid, err := daemonize(pidFile, f.LogFile)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.out, "previewd started in background with PID %d\n", pid)
		return nil
	}

	log, closer, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File: logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	}, os.Stderr)
	if err != nil {
		return fmt.Errorf("error configuring logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	if cfg.Metrics.Enabled {
		if err := previewd.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	d, err := previewd.New(cfg, previewd.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bind before Run so a second daemon on the same address fails fast
	// without recovering (and later stopping) the first one's servers.
	ln, err := net.Listen("tcp", cfg.API.Listen)
	if err != nil {
		_ = d.Close(context.Background())
		return fmt.Errorf("listen %s: %w", cfg.API.Listen, err)
	}
	if err := d.Run(ctx); err != nil {
		_ = ln.Close()
		_ = d.Close(context.Background())
		return err
	}
	if f.Daemonize {
		if err := writePidFile(pidFile, os.Getpid()); err != nil {
			log.Warn("failed to write pid file", "path", pidFile, "err", err)
		}
		defer func() { _ = removePidFile(pidFile) }()
	}

	srv := previewd.NewHTTPServer(cfg.API.Listen, "/api", d, cfg.Metrics.Enabled)
	errCh := make(chan error, 1)
	go func() {
		log.Info("previewd listening", "addr", ln.Addr().String(), "data_dir", cfg.DataDir)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.Error("http server failed", "err", serveErr)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(sctx)
	return errors.Join(serveErr, d.Close(sctx))
}
