package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/loykin/previewd"
	"github.com/loykin/previewd/pkg/client"
)

type command struct {
	out    io.Writer
	global *GlobalFlags
}

func (c *command) config() (*previewd.Config, error) {
	cfg, err := previewd.LoadConfig(c.global.ConfigPath, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// apiURL is --api-url, or the loopback form of the configured api.listen.
func (c *command) apiURL() (string, error) {
	if c.global.APIUrl != "" {
		return c.global.APIUrl, nil
	}
	cfg, err := c.config()
	if err != nil {
		return "", err
	}
	return apiURLFor(cfg.API.Listen), nil
}

func apiURLFor(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return client.DefaultConfig().BaseURL
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api"
}

// dial returns an API client for a reachable daemon.
func (c *command) dial(ctx context.Context) (*client.Client, error) {
	u, err := c.apiURL()
	if err != nil {
		return nil, err
	}
	cl := client.New(client.Config{BaseURL: u, Timeout: c.global.APITimeout})
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start it first with 'previewd serve'", u)
	}
	return cl, nil
}

func (c *command) Start(ctx context.Context, f StartFlags) error {
	root := f.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root %s: %w", root, err)
	}
	cl, err := c.dial(ctx)
	if err != nil {
		return err
	}
	st, err := cl.Start(ctx, f.Project, client.StartRequest{Root: abs, Port: f.Port})
	if err != nil {
		return err
	}
	c.printJSON(st)
	return nil
}

func (c *command) Stop(ctx context.Context, project string) error {
	cl, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx, project); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "stopped %s\n", project)
	return nil
}

func (c *command) Status(ctx context.Context, project string) error {
	cl, err := c.dial(ctx)
	if err != nil {
		return err
	}
	st, err := cl.Status(ctx, project)
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("no server for project %s", project)
	}
	if err != nil {
		return err
	}
	c.printJSON(st)
	return nil
}

func (c *command) Logs(ctx context.Context, f LogsFlags) error {
	cl, err := c.dial(ctx)
	if err != nil {
		return err
	}
	var since time.Time
	if f.Since > 0 {
		since = time.Now().Add(-f.Since)
	}
	resp, err := cl.Logs(ctx, f.Project, since, f.Limit)
	if err != nil {
		return err
	}
	for _, l := range resp.Lines {
		_, _ = fmt.Fprintf(c.out, "%s %-6s %s\n", l.Time.Local().Format("15:04:05.000"), l.Stream, l.Text)
	}
	return nil
}

func (c *command) List(ctx context.Context, f ListFlags) error {
	cl, err := c.dial(ctx)
	if err != nil {
		return err
	}
	servers, err := cl.List(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		c.printJSON(servers)
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROJECT\tPORT\tPID\tSTATUS\tSOURCE\tFRAMEWORK\tURL")
	for _, s := range servers {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			s.ProjectID, s.Port, s.PID, s.Status, s.Source, s.FrameworkName, s.PreviewURL)
	}
	return tw.Flush()
}

// local builds a daemon without background work for one-shot passes
// against the registry file.
func (c *command) local() (*previewd.Daemon, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return previewd.New(cfg)
}

func (c *command) Scan(ctx context.Context) error {
	d, err := c.local()
	if err != nil {
		return err
	}
	defer func() { _ = d.Close(ctx) }()
	added, err := d.Scan(ctx)
	if err != nil {
		return err
	}
	if added == nil {
		added = []previewd.ServerRecord{}
	}
	c.printJSON(added)
	return nil
}

func (c *command) Cleanup(ctx context.Context) error {
	d, err := c.local()
	if err != nil {
		return err
	}
	defer func() { _ = d.Close(ctx) }()
	removed, err := d.Cleanup(ctx)
	if err != nil {
		return err
	}
	c.printJSON(removed)
	return nil
}

func (c *command) printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(c.out, string(b))
}
