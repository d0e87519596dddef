package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// app carries the state shared by every command of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfgFile string
	config  *Config
	logger  *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "templatectl",
		Short: "Govern versioned page templates",
		Long: `templatectl loads a governance manifest (templates, migrations,
deprecations and registry entries) and runs governance operations against it.

Examples:
  templatectl validate site.yaml
  templatectl migrate site.yaml --template saas-landing --to 1.0.0 --data page.json
  templatectl deprecations site.yaml --template saas-landing --data page.json
  templatectl version satisfies 1.4.2 ^1.0.0`,
		Version:           fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "",
		"config file (yaml, json or toml)")

	root.AddCommand(
		a.validateCmd(),
		a.healthCmd(),
		a.publishCmd(),
		a.migrateCmd(),
		a.deprecationsCmd(),
		a.resolveCmd(),
		a.statsCmd(),
		versionCmd(stdout),
	)
	return root
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(a.cfgFile)
	if err != nil {
		return &CommandError{Op: "configuration", Err: err, ExitCode: ExitConfigError}
	}
	a.config = cfg
	a.logger = SetupLogger(cfg, a.stderr)
	return nil
}

// withServices builds fresh services for a command and always closes them,
// so traces and metrics are flushed even when the command fails.
func (a *app) withServices(fn func(cmd *cobra.Command, args []string, s *Services) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := NewServices(a.config, a.logger, a.stderr)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := s.Close(cmd.Context(), a.stderr); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args, s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
