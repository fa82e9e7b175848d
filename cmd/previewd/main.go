package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and every subcommand writing to out
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	logsFlags := &LogsFlags{}
	listFlags := &ListFlags{}
	serveFlags := &ServeFlags{}

	c := &command{out: out, global: globalFlags}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(c, serveFlags),
		createStartCommand(c, startFlags),
		createStopCommand(c),
		createStatusCommand(c),
		createLogsCommand(c, logsFlags),
		createListCommand(c, listFlags),
		createScanCommand(c),
		createCleanupCommand(c),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "previewd",
		Short: "Local dev-preview server supervisor",
		Long: `previewd starts, tracks and discovers local development preview servers.
A daemon ("previewd serve") owns the children; the other commands talk to it.

Examples:
  previewd serve
  previewd start shop --root ~/code/shop
  previewd logs shop --since 5m
  previewd list`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default derived from api.listen)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(c *command, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the previewd daemon",
		Long: `Run the daemon: load the registry, recover servers left by a previous
run, start cleanup/discovery/maintenance loops and serve the HTTP API.
SIGINT or SIGTERM stops every managed server and exits.

Examples:
  previewd serve
  previewd serve --config ~/.config/previewd/config.toml
  previewd serve --daemonize --logfile /tmp/previewd.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon PID here (default <data_dir>/previewd.pid)")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file when daemonized")
	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(c *command, flags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <project>",
		Short: "Start a project's dev server",
		Long: `Start (or return the already running) dev server for a project.
The project type and command are detected from --root.

Examples:
  previewd start shop                       # root defaults to the current directory
  previewd start shop --root /src/shop --port 4321`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *flags
			f.Project = args[0]
			return c.Start(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&flags.Root, "root", "", "project root directory (default: current directory)")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "explicit port (default: allocated)")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <project>",
		Short: "Stop a project's dev server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), args[0])
		},
	}
}

// createStatusCommand creates the status subcommand
func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status <project>",
		Short: "Show a project's dev server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), args[0])
		},
	}
}

// createLogsCommand creates the logs subcommand
func createLogsCommand(c *command, flags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <project>",
		Short: "Print captured dev server output",
		Long: `Print lines captured from a managed dev server.

Examples:
  previewd logs shop
  previewd logs shop --since 2m --limit 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *flags
			f.Project = args[0]
			return c.Logs(cmd.Context(), f)
		},
	}
	cmd.Flags().DurationVar(&flags.Since, "since", 0, "only lines newer than this (e.g. 5m)")
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "at most this many of the newest lines")
	return cmd
}

// createListCommand creates the list subcommand
func createListCommand(c *command, flags *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every tracked server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

// createScanCommand creates the scan subcommand
func createScanCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery pass against the registry file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Scan(cmd.Context())
		},
	}
}

// createCleanupCommand creates the cleanup subcommand
func createCleanupCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale registry records once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Cleanup(cmd.Context())
		},
	}
}
