package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/presentation"
	"github.com/zjrosen/levelsync/internal/registry"
	"github.com/zjrosen/levelsync/internal/replication"
	"github.com/zjrosen/levelsync/internal/session"
	"github.com/zjrosen/levelsync/internal/watcher"
)

var (
	regSources []string
	regWatch   bool
)

var registryListCmd = &cobra.Command{
	Use:   "registry:list",
	Short: "List the templates each content source registers",
	Long: `List the templates the baseline and every content package register, as JSON,
grouped by source in contribution order.

Templates whose name collides with a baseline template are resolved to the
baseline and do not appear under the package.

Examples:
  # List every source
  levelsync registry:list

  # Only some sources (repeatable)
  levelsync registry:list --source pkg.moons -s baseline

  # Print again whenever a package manifest changes
  levelsync registry:list --watch

  # Parse specific fields with jq
  levelsync registry:list | jq '.[].templates[].name'`,
	RunE: runRegistryList,
}

func init() {
	registryListCmd.Flags().StringArrayVarP(&regSources, "source", "s", nil, "Filter by source id (can be repeated)")
	registryListCmd.Flags().BoolVarP(&regWatch, "watch", "w", false, "Watch the package directory and print on every change")
	rootCmd.AddCommand(registryListCmd)
}

func runRegistryList(cmd *cobra.Command, _ []string) error {
	load := session.DiskContent(cfg.Content.BaselinePath, cfg.Content.PackagesDir)
	formatter := presentation.NewFormatter(cmd.OutOrStdout())

	list := func() error {
		reg, err := buildRegistry(load)
		if err != nil {
			return err
		}
		return formatter.FormatSources(filterBySources(presentation.FromSourceGroups(reg.Groups()), regSources))
	}
	if err := list(); err != nil {
		return err
	}
	if !regWatch {
		return nil
	}

	w, err := watcher.New(watcher.Config{
		Dir:         cfg.Content.PackagesDir,
		DebounceDur: cfg.Content.WatchDebounce,
		Extensions:  watcher.DefaultConfig(cfg.Content.PackagesDir).Extensions,
	})
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	changes, err := w.Start()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			log.Info(log.CatLoader, "package manifests changed", "manifests", strings.Join(change.Manifests, ","))
			// A broken manifest mid-edit is reported and the watch continues.
			if err := list(); err != nil {
				log.ErrorErr(log.CatLoader, "reloading packages failed", err)
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		}
	}
}

// buildRegistry registers one fresh parse of the content, baseline first.
func buildRegistry(load session.Loader) (*registry.Registry, error) {
	cnt, err := load()
	if err != nil {
		return nil, err
	}
	m := replication.New()
	m.RegisterBaseline(cnt.Baseline.Templates())
	for _, pkg := range cnt.Packages {
		m.RegisterContent(pkg)
	}
	return m.Registry(), nil
}

// filterBySources keeps sources whose id is in ids. No ids keeps everything.
func filterBySources(sources []presentation.SourceDTO, ids []string) []presentation.SourceDTO {
	if len(ids) == 0 {
		return sources
	}
	result := make([]presentation.SourceDTO, 0, len(sources))
	for _, s := range sources {
		if slices.Contains(ids, s.ID) {
			result = append(result, s)
		}
	}
	return result
}
