package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/artpar/templategov/internal/core/semver"
)

func versionCmd(w io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Semantic version arithmetic",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "compare <a> <b>",
			Short: "Print less, equal or greater",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				o, err := semver.CompareStrings(args[0], args[1])
				if err != nil {
					return &CommandError{Op: "compare", Err: err, ExitCode: ExitUsageError}
				}
				_, err = fmt.Fprintln(w, o)
				return err
			},
		},
		&cobra.Command{
			Use:   "satisfies <version> <range>",
			Short: "Check a version against a range; exits non-zero when it does not match",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := semver.Parse(args[0])
				if err != nil {
					return &CommandError{Op: "satisfies", Err: err, ExitCode: ExitUsageError}
				}
				ok := semver.Satisfies(v, args[1])
				if _, err := fmt.Fprintln(w, strconv.FormatBool(ok)); err != nil {
					return err
				}
				if !ok {
					return &CommandError{
						Op:       "satisfies",
						Err:      fmt.Errorf("%s does not satisfy %q", v, args[1]),
						ExitCode: ExitValidationFailed,
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "bump <version> <major|minor|patch>",
			Short: "Print the next version",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := semver.Parse(args[0])
				if err != nil {
					return &CommandError{Op: "bump", Err: err, ExitCode: ExitUsageError}
				}
				next, err := semver.Bump(v, semver.BumpType(args[1]))
				if err != nil {
					return &CommandError{Op: "bump", Err: err, ExitCode: ExitUsageError}
				}
				_, err = fmt.Fprintln(w, next)
				return err
			},
		},
	)
	return cmd
}
