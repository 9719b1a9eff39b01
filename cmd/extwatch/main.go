package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"extwatch/internal/config"
	"extwatch/internal/debug"
)

// errReported marks failures whose message was already printed.
var errReported = errors.New("already reported")

// flagKeys maps CLI flags to the config keys they override.
var flagKeys = map[string]string{
	"api":          config.KeyAPIListen,
	"log-level":    config.KeyLogLevel,
	"log-file":     config.KeyLogPath,
	"profile":      config.KeyBrowserProfile,
	"state":        config.KeyStatePath,
	"download-dir": config.KeyDownloadDir,
}

func main() {
	err := newRootCmd(os.Stdout, os.Stderr).Execute()
	debug.Close()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "extwatch",
		Short:         "Keep Chromium extensions installed outside the store up to date",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd, opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "user config file (default ~/.extwatch/config.yaml)")
	flags.BoolVar(&opts.debug, "debug", false, "write debug messages to the log")
	flags.String("api", config.DefaultAPIListen, "daemon API address")
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")
	flags.String("log-file", "", "log file (default ~/.extwatch/extwatch.log)")

	root.AddCommand(
		newDaemonCmd(),
		newCheckCmd(),
		newUpdateCmd(),
		newInstallCmd(),
		newListCmd(),
		newPopupCmd(),
		newVersionCmd(),
	)
	return root
}

func setup(cmd *cobra.Command, opts *rootOptions) error {
	var cfgOpts []config.Option
	if path := strings.TrimSpace(opts.configPath); path != "" {
		cfgOpts = append(cfgOpts, config.WithUserConfig(path))
	}
	if err := config.Initialize(cfgOpts...); err != nil {
		return fmt.Errorf("initialize config: %w", err)
	}
	if err := config.ApplyOverrides(flagOverrides(cmd.Flags())); err != nil {
		return fmt.Errorf("apply flags: %w", err)
	}

	stderrLog := false
	if f := cmd.Flags().Lookup("log-stderr"); f != nil {
		stderrLog = f.Value.String() == "true"
	}
	return debug.Setup(debug.Options{
		Debug:  opts.debug,
		Path:   config.GetString(config.KeyLogPath),
		Level:  config.GetString(config.KeyLogLevel),
		Stderr: stderrLog,
	})
}

// flagOverrides collects the flags set on the command line as config overrides.
func flagOverrides(flags *pflag.FlagSet) map[string]any {
	overrides := map[string]any{}
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})
	return overrides
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Printing the version needs neither config nor a log file.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}
