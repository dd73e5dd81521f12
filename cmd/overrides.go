package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/levelsync/internal/infrastructure/sqlite"
	"github.com/zjrosen/levelsync/internal/presentation"
	"github.com/zjrosen/levelsync/internal/syncproto"
)

var overrideSource string

var overridesSetCmd = &cobra.Command{
	Use:   "overrides:set UNIQUE_ID FIELD=KIND:VALUE...",
	Short: "Store override values the host replays to clients",
	Long: `Store persisted override values for one content item. The host loads the
record when a session synchronizes and every client adopts the stored values.

Each field is written as NAME=KIND:VALUE where KIND is int, float, text or
bool. Setting a record replaces all of its fields.

Examples:
  levelsync overrides:set pkg.moons.item.Crate value=int:120 label=text:'Old crate'
  levelsync overrides:set pkg.moons.level.Vow route_price=int:0 --source pkg.moons`,
	Args: cobra.MinimumNArgs(2),
	RunE: runOverridesSet,
}

var overridesListCmd = &cobra.Command{
	Use:   "overrides:list",
	Short: "List stored override records as JSON",
	Args:  cobra.NoArgs,
	RunE:  runOverridesList,
}

var overridesDeleteCmd = &cobra.Command{
	Use:   "overrides:delete UNIQUE_ID",
	Short: "Delete a stored override record",
	Args:  cobra.ExactArgs(1),
	RunE:  runOverridesDelete,
}

func init() {
	overridesSetCmd.Flags().StringVar(&overrideSource, "source", "", "Source id the record belongs to")
	rootCmd.AddCommand(overridesSetCmd, overridesListCmd, overridesDeleteCmd)
}

// openStore opens the configured store whether or not simulate replays it.
func openStore() (*sqlite.DB, *sqlite.OverrideStore, error) {
	db, err := sqlite.NewDB(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening override store: %w", err)
	}
	return db, sqlite.NewOverrideStore(db.OverrideRepository(), cfg.Store.CacheTTL, cfg.Store.SlidingTTL), nil
}

func runOverridesSet(cmd *cobra.Command, args []string) error {
	record := syncproto.OverrideRecord{
		UniqueID: args[0],
		Fields:   make(map[string]syncproto.Value, len(args)-1),
	}
	for _, arg := range args[1:] {
		name, v, err := parseField(arg)
		if err != nil {
			return err
		}
		record.Fields[name] = v
	}

	db, store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := store.Save(cmd.Context(), overrideSource, record); err != nil {
		return fmt.Errorf("saving %s: %w", record.UniqueID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %d field(s) for %s\n", len(record.Fields), record.UniqueID)
	return nil
}

func runOverridesList(cmd *cobra.Command, _ []string) error {
	db, store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	stored, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	return presentation.NewFormatter(cmd.OutOrStdout()).FormatOverrides(presentation.FromStoredOverrides(stored))
}

func runOverridesDelete(cmd *cobra.Command, args []string) error {
	db, store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return fmt.Errorf("no stored overrides for %s", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

// parseField splits NAME=KIND:VALUE.
func parseField(arg string) (string, syncproto.Value, error) {
	name, typed, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return "", syncproto.Value{}, fmt.Errorf("field %q: expected NAME=KIND:VALUE", arg)
	}
	kindText, raw, ok := strings.Cut(typed, ":")
	if !ok {
		return "", syncproto.Value{}, fmt.Errorf("field %q: expected NAME=KIND:VALUE", arg)
	}
	kind, err := syncproto.ParseValueKind(kindText)
	if err != nil {
		return "", syncproto.Value{}, fmt.Errorf("field %s: %w", name, err)
	}
	v, err := syncproto.ParseValue(kind, raw)
	if err != nil {
		return "", syncproto.Value{}, fmt.Errorf("field %s: %w", name, err)
	}
	return name, v, nil
}
