package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/levelsync/internal/presentation"
	"github.com/zjrosen/levelsync/internal/registry"
	"github.com/zjrosen/levelsync/internal/session"
)

// errRegistriesDiffer is returned when the compared registries do not match.
var errRegistriesDiffer = errors.New("registries differ")

var (
	diffAgainst         string
	diffAgainstBaseline string
)

var registryDiffCmd = &cobra.Command{
	Use:   "registry:diff",
	Short: "Compare the registry built from two package sets",
	Long: `Build the registry from the configured content and from a second package
directory, as a host and a client with different installs would, and print
a line diff of the two registry reports as JSON.

Network identities are derived from source id and template name, so two
installs that register the same templates produce identical reports. Any
line in the diff is a template one side would fail to instantiate.

The command exits non-zero when the registries differ.

Examples:
  # Compare against a client's package directory
  levelsync registry:diff --against /mnt/client/packages

  # Use a different baseline for the other side too
  levelsync registry:diff --against ./other/packages --against-baseline ./other/baseline.yaml

  # Show only the diff
  levelsync registry:diff --against ./other/packages | jq -r '.diff'`,
	RunE: runRegistryDiff,
}

func init() {
	registryDiffCmd.Flags().StringVarP(&diffAgainst, "against", "a", "", "Package directory to compare against (required)")
	registryDiffCmd.Flags().StringVar(&diffAgainstBaseline, "against-baseline", "", "Baseline manifest for the other side (default: configured baseline)")
	rootCmd.AddCommand(registryDiffCmd)
}

func runRegistryDiff(cmd *cobra.Command, _ []string) error {
	if diffAgainst == "" {
		return cmd.Help()
	}
	otherBaseline := diffAgainstBaseline
	if otherBaseline == "" {
		otherBaseline = cfg.Content.BaselinePath
	}

	want, err := buildRegistry(session.DiskContent(cfg.Content.BaselinePath, cfg.Content.PackagesDir))
	if err != nil {
		return fmt.Errorf("building registry from %s: %w", cfg.Content.PackagesDir, err)
	}
	got, err := buildRegistry(session.DiskContent(otherBaseline, diffAgainst))
	if err != nil {
		return fmt.Errorf("building registry from %s: %w", diffAgainst, err)
	}

	diff := registry.DiffReports(want.Report(), got.Report())
	result := presentation.DiffDTO{
		Want:  cfg.Content.PackagesDir,
		Got:   diffAgainst,
		Match: diff == "",
		Diff:  diff,
	}
	if err := presentation.NewFormatter(cmd.OutOrStdout()).FormatDiff(result); err != nil {
		return err
	}
	if !result.Match {
		return errRegistriesDiffer
	}
	return nil
}
