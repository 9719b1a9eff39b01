package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"extwatch/internal/badge"
	"extwatch/internal/config"
	"extwatch/internal/daemon"
	"extwatch/internal/debug"
	"extwatch/internal/platform"
	"extwatch/internal/rpc"
	"extwatch/internal/ui"
)

const (
	healthTimeout = 5 * time.Second
	spinnerDelay  = 300 * time.Millisecond
)

// apiClient is the subset of rpc.Client the commands use.
type apiClient interface {
	Call(ctx context.Context, msg platform.Message) error
	Pending(ctx context.Context) ([]badge.PendingUpdate, error)
	Health(ctx context.Context) (rpc.Health, error)
}

var newAPIClient = func(addr string) apiClient {
	return rpc.NewClient(addr)
}

// connect builds a client for the configured address and probes the daemon.
func connect(cmd *cobra.Command) (apiClient, rpc.Health, error) {
	addr := config.GetString(config.KeyAPIListen)
	client := newAPIClient(addr)

	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	defer cancel()
	health, err := client.Health(ctx)
	if handleDaemonCheckResult(cmd.ErrOrStderr(), addr, health, err) {
		return nil, rpc.Health{}, errReported
	}
	return client, health, nil
}

func newDaemonCmd() *cobra.Command {
	var ephemeral bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the update monitor in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(ctx, daemon.SettingsFromConfig(ephemeral), daemon.WithVersion(Version))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "extwatch daemon listening on %s\n", d.Addr())
			if err := d.Run(ctx); err != nil {
				debug.Errorf("daemon stopped: %v", err)
				return err
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&ephemeral, "ephemeral", false, "keep state in memory instead of the state file")
	flags.String("profile", "", "browser profile directory")
	flags.String("state", "", "state database file")
	flags.String("download-dir", "", "directory packages are downloaded into")
	flags.Bool("log-stderr", false, "mirror the log to stderr")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check every tracked extension for updates now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, health, err := connect(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			before, err := client.Pending(ctx)
			if err != nil {
				return err
			}

			sp := newWaitSpinner(cmd.ErrOrStderr(), spinnerDelay)
			sp.Stage(stageChecking, "")
			started := time.Now()
			err = client.Call(ctx, platform.Message{Action: platform.ActionCheckUpdates})
			elapsed := time.Since(started)
			sp.Stop()
			if err != nil {
				return err
			}

			after, err := client.Pending(ctx)
			if err != nil {
				return err
			}
			printCheckSummary(cmd.OutOrStdout(), CheckSummary{
				Version: health.Version,
				Before:  before,
				After:   after,
				Elapsed: elapsed,
			})
			return nil
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <extension-id>",
		Short: "Download the available update for one extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			client, _, err := connect(cmd)
			if err != nil {
				return err
			}
			sp := newWaitSpinner(cmd.ErrOrStderr(), spinnerDelay)
			sp.Stage(stageDownloading, id)
			err = client.Call(cmd.Context(), platform.Message{
				Action: platform.ActionUpdateExt,
				Args:   platform.MessageArgs{ID: id},
			})
			sp.Stop()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s; waiting for the browser to install it\n", id)
			return nil
		},
	}
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <store-url>",
		Short: "Install an extension from its Web Store page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(args[0])
			client, _, err := connect(cmd)
			if err != nil {
				return err
			}
			sp := newWaitSpinner(cmd.ErrOrStderr(), spinnerDelay)
			sp.Stage(stageInstalling, url)
			err = client.Call(cmd.Context(), platform.Message{
				Action: platform.ActionInstallExt,
				Args:   platform.MessageArgs{URL: url},
			})
			sp.Stop()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Package downloaded; confirm the install in the browser")
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extensions with an update available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := connect(cmd)
			if err != nil {
				return err
			}
			items, err := client.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			printPendingList(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the list as JSON")
	return cmd
}

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(*ui.App) programRunner

var defaultProgramFactory programFactory = func(app *ui.App) programRunner {
	return tea.NewProgram(app, tea.WithAltScreen())
}

func newPopupCmd() *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "popup",
		Short: "Open the interactive list of pending updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, health, err := connect(cmd)
			if err != nil {
				return err
			}
			version := health.Version
			if version == "" {
				version = Version
			}
			return runProgram(ui.Config{Client: client, Version: version, RefreshInterval: refresh}, defaultProgramFactory)
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 5*time.Second, "how often the list reloads")
	return cmd
}

func runProgram(cfg ui.Config, factory programFactory) error {
	if cfg.Client == nil {
		return fmt.Errorf("popup client is nil")
	}
	if factory == nil {
		return fmt.Errorf("program factory is nil")
	}
	prog := factory(ui.NewApp(cfg))
	if prog == nil {
		return fmt.Errorf("program is nil")
	}
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("run popup: %w", err)
	}
	return nil
}
