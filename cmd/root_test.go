package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/levelsync/internal/config"
	"github.com/zjrosen/levelsync/internal/presentation"
	"github.com/zjrosen/levelsync/internal/session"
	"github.com/zjrosen/levelsync/internal/syncproto"
)

// === Helper Functions ===

const testBaseline = `
templates: [Flowerman, Jester]
levels:
  - name: Experimentation
    flows:
      - {ref: baseline.flow.facility, weight: 300}
`

const testMoons = `
id: pkg.moons
name: Moons
templates: [ScrapBox]
references: [Flowerman]
levels:
  - name: Vow
    weather: rainy
    size: {factor: 1.4, min: 1, max: 2}
    flows:
      - {flow: facility, weight: 300}
      - {ref: baseline.flow.mansion, weight: 50}
items:
  - id: pkg.moons.item.Crate
    fields:
      value: {kind: int, value: 80}
`

type workspace struct {
	dir        string
	configPath string
	packages   string
}

// newWorkspace writes manifests and a config file pointing at them.
func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	packages := filepath.Join(dir, "packages")
	require.NoError(t, os.MkdirAll(packages, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "baseline.yaml"), []byte(testBaseline), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(packages, "moons.yaml"), []byte(testMoons), 0o600))

	configPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "session:\n  clients: 2\n  level: Vow\n" +
		"content:\n  baseline_path: " + filepath.Join(dir, "baseline.yaml") + "\n  packages_dir: " + packages + "\n" +
		"store:\n  path: " + filepath.Join(dir, "overrides.db") + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(cfgYAML), 0o600))
	return workspace{dir: dir, configPath: configPath, packages: packages}
}

// resetFlags restores every flag to its default so one test's flags do not
// leak into the next execution.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	viper.Reset()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func decodeRounds(t *testing.T, out string) []session.RoundReport {
	t.Helper()
	var rounds []session.RoundReport
	require.NoError(t, json.Unmarshal([]byte(out), &rounds), out)
	return rounds
}

// === Unit Tests: simulate ===

func TestSimulate_DefaultRound(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "simulate", "--config", ws.configPath)
	require.NoError(t, err, out)

	rounds := decodeRounds(t, out)
	require.Len(t, rounds, 1)
	require.True(t, rounds[0].Consistent)
	require.Len(t, rounds[0].Participants, 3)
	require.True(t, rounds[0].Participants[0].Host)
	for _, p := range rounds[0].Participants {
		require.Equal(t, "Vow", p.Level)
		require.True(t, p.Ready)
	}
}

func TestSimulate_FlagsOverrideConfig(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "simulate", "--config", ws.configPath, "--clients", "1", "--rounds", "2", "--seed", "5")
	require.NoError(t, err, out)

	rounds := decodeRounds(t, out)
	require.Len(t, rounds, 2)
	for _, r := range rounds {
		require.Len(t, r.Participants, 2)
	}
	require.Equal(t, rounds[0].Participants[0].Flow, rounds[1].Participants[0].Flow, "a pinned seed draws the same flow")
}

func TestSimulate_PinSeedSavesConfig(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, "simulate", "--config", ws.configPath, "--seed", "77", "--pin-seed")
	require.NoError(t, err)

	saved, err := config.Load(viper.New(), ws.configPath)
	require.NoError(t, err)
	require.Equal(t, uint64(77), saved.Sync.Seed)
	require.Equal(t, "Vow", saved.Session.Level, "other settings survive")
}

func TestSimulate_UnknownLevel(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, "simulate", "--config", ws.configPath, "--level", "Titan")
	require.ErrorIs(t, err, session.ErrUnknownLevel)
}

func TestSimulate_InvalidConfig(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(ws.configPath, []byte("session:\n  rounds: 0\n"), 0o600))

	_, err := execute(t, "simulate", "--config", ws.configPath)
	require.ErrorContains(t, err, "invalid configuration")
}

func TestSimulate_ReplaysStoredOverrides(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "overrides:set", "--config", ws.configPath, "pkg.moons.item.Crate", "value=int:120")
	require.NoError(t, err, out)
	require.Contains(t, out, "stored 1 field(s) for pkg.moons.item.Crate")

	out, err = execute(t, "simulate", "--config", ws.configPath, "--store")
	require.NoError(t, err, out)

	rounds := decodeRounds(t, out)
	for _, p := range rounds[0].Participants[1:] {
		require.Equal(t, 1.0, p.Divergences[syncproto.ExchangeOverride], p.Peer)
	}
}

// === Unit Tests: overrides ===

func TestOverrides_ListAndDelete(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, "overrides:set", "--config", ws.configPath, "--source", "pkg.moons",
		"pkg.moons.item.Crate", "value=int:120", "label=text:Old crate")
	require.NoError(t, err)

	out, err := execute(t, "overrides:list", "--config", ws.configPath)
	require.NoError(t, err)
	var listed []presentation.OverrideDTO
	require.NoError(t, json.Unmarshal([]byte(out), &listed), out)
	require.Len(t, listed, 1)
	require.Equal(t, "pkg.moons", listed[0].SourceID)
	require.Equal(t, []presentation.FieldDTO{
		{Name: "label", Kind: "text", Value: "Old crate"},
		{Name: "value", Kind: "int", Value: "120"},
	}, listed[0].Fields)

	out, err = execute(t, "overrides:delete", "--config", ws.configPath, "pkg.moons.item.Crate")
	require.NoError(t, err)
	require.Contains(t, out, "deleted pkg.moons.item.Crate")

	_, err = execute(t, "overrides:delete", "--config", ws.configPath, "pkg.moons.item.Crate")
	require.ErrorContains(t, err, "no stored overrides")
}

func TestOverrides_SetRejectsBadField(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, "overrides:set", "--config", ws.configPath, "x", "value=int:many")
	require.ErrorContains(t, err, "field value")
}

func TestParseField(t *testing.T) {
	tests := []struct {
		arg     string
		name    string
		want    syncproto.Value
		wantErr bool
	}{
		{"price=int:120", "price", syncproto.IntValue(120), false},
		{"scale=float:1.5", "scale", syncproto.FloatValue(1.5), false},
		{"label=text:a:b", "label", syncproto.TextValue("a:b"), false},
		{"locked=bool:true", "locked", syncproto.BoolValue(true), false},
		{"price", "", syncproto.Value{}, true},
		{"=int:1", "", syncproto.Value{}, true},
		{"price=120", "", syncproto.Value{}, true},
		{"price=money:1", "", syncproto.Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			name, v, err := parseField(tt.arg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.name, name)
			require.Equal(t, tt.want, v)
		})
	}
}

// === Unit Tests: registry ===

func TestRegistryList(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "registry:list", "--config", ws.configPath)
	require.NoError(t, err)
	var sources []presentation.SourceDTO
	require.NoError(t, json.Unmarshal([]byte(out), &sources), out)
	require.Len(t, sources, 2)
	require.Equal(t, "baseline", sources[0].ID)
	require.Len(t, sources[0].Templates, 2)
	require.Equal(t, "pkg.moons", sources[1].ID)
	require.Equal(t, "ScrapBox", sources[1].Templates[0].Name)

	out, err = execute(t, "registry:list", "--config", ws.configPath, "--source", "pkg.moons")
	require.NoError(t, err)
	sources = nil
	require.NoError(t, json.Unmarshal([]byte(out), &sources), out)
	require.Len(t, sources, 1)
}

func TestRegistryDiff_Match(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "registry:diff", "--config", ws.configPath, "--against", ws.packages)
	require.NoError(t, err, out)
	var result presentation.DiffDTO
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	require.True(t, result.Match)
	require.Empty(t, result.Diff)
}

func TestRegistryDiff_Mismatch(t *testing.T) {
	ws := newWorkspace(t)
	other := filepath.Join(ws.dir, "other")
	require.NoError(t, os.MkdirAll(other, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(other, "moons.yaml"),
		[]byte("id: pkg.moons\ntemplates: [ScrapBox, Turret]\n"), 0o600))

	out, err := execute(t, "registry:diff", "--config", ws.configPath, "--against", other)
	require.ErrorIs(t, err, errRegistriesDiffer)
	require.Contains(t, out, "Turret")
}

// === Unit Tests: config:init ===

func TestConfigInit(t *testing.T) {
	ws := newWorkspace(t)
	target := filepath.Join(ws.dir, "fresh", "config.yaml")

	out, err := execute(t, "config:init", "--config", ws.configPath, "--path", target)
	require.NoError(t, err)
	require.Contains(t, out, "wrote "+target)

	_, err = execute(t, "config:init", "--config", ws.configPath, "--path", target)
	require.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config:init", "--config", ws.configPath, "--path", target, "--force")
	require.NoError(t, err)
}
