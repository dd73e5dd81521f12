package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/syncproto"
	"github.com/zjrosen/levelsync/internal/world"
)

// === Helper Functions ===

const moonsManifest = `
id: pkg.moons
name: Moons
templates: [ScrapBox, Turret, ScrapBox]
references: [Flowerman]
levels:
  - name: Vow
    weather: rainy
    size: {factor: 1.4, min: 1, max: 2}
    flows:
      - {flow: facility, weight: 300}
      - {ref: baseline.flow.mansion, weight: 50}
  - name: March
items:
  - id: pkg.moons.item.Crate
    fields:
      value: {kind: int, value: 80}
      label: {kind: text, value: Old crate}
      heavy: {kind: bool, value: "true"}
`

const baselineManifest = `
templates: [Flowerman, Jester]
levels:
  - name: Experimentation
    weather: None
    flows:
      - {ref: baseline.flow.facility, weight: 300}
`

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	return path
}

// === Unit Tests: Parse ===

func TestParse_Package(t *testing.T) {
	pkg, err := Parse([]byte(moonsManifest))
	require.NoError(t, err)

	require.Equal(t, "pkg.moons", pkg.Source().ID)
	require.Equal(t, "Moons", pkg.Source().Name)

	templates := pkg.Templates()
	require.Len(t, templates, 2, "duplicate template names are skipped")
	require.Equal(t, "ScrapBox", templates[0].Name)
	require.Equal(t, content.DeriveNetworkID(pkg.Source(), "ScrapBox"), templates[0].NetworkID)

	refs := pkg.References()
	require.Len(t, refs, 1)
	require.Equal(t, "Flowerman", refs[0].Template().Name)
	require.Same(t, pkg.Source(), refs[0].Template().Source)

	require.Equal(t, []string{"Vow", "March"}, pkg.LevelNames())
	size, ok := pkg.Size("Vow")
	require.True(t, ok)
	require.Equal(t, world.Size{Factor: 1.4, Min: 1, Max: 2}, size)
	_, ok = pkg.Size("March")
	require.False(t, ok)
}

func TestParse_NameDefaultsToID(t *testing.T) {
	pkg, err := Parse([]byte("id: pkg.bare"))
	require.NoError(t, err)
	require.Equal(t, "pkg.bare", pkg.Source().Name)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", "name: x"},
		{"reserved baseline", "id: baseline"},
		{"reserved internal", "id: internal"},
		{"empty template", "id: p\ntemplates: ['']"},
		{"empty reference", "id: p\nreferences: ['']"},
		{"unnamed level", "id: p\nlevels: [{weather: Rainy}]"},
		{"bad weather", "id: p\nlevels: [{name: a, weather: Snowy}]"},
		{"duplicate level", "id: p\nlevels: [{name: a}, {name: a}]"},
		{"flow without name", "id: p\nlevels: [{name: a, flows: [{weight: 3}]}]"},
		{"item without id", "id: p\nitems: [{fields: {}}]"},
		{"bad field kind", "id: p\nitems: [{id: i, fields: {x: {kind: decimal, value: '1'}}}]"},
		{"bad field value", "id: p\nitems: [{id: i, fields: {x: {kind: int, value: many}}}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("id: [unterminated"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidManifest)
}

func TestParseBaseline(t *testing.T) {
	pkg, err := ParseBaseline([]byte(baselineManifest))
	require.NoError(t, err)
	require.Same(t, content.Baseline, pkg.Source())
	require.Len(t, pkg.Templates(), 2)

	_, err = ParseBaseline([]byte("id: pkg.other"))
	require.ErrorIs(t, err, ErrInvalidManifest)
	_, err = ParseBaseline([]byte("references: [x]"))
	require.ErrorIs(t, err, ErrInvalidManifest)
}

// === Unit Tests: Populate ===

func TestPackage_Populate(t *testing.T) {
	pkg, err := Parse([]byte(moonsManifest))
	require.NoError(t, err)

	levels := world.NewLevels()
	index := world.NewIndex()
	pkg.Populate(levels, index)

	vow, ok := levels.Get("Vow")
	require.True(t, ok)
	require.Equal(t, syncproto.WeatherRainy, vow.Weather())
	march, ok := levels.Get("March")
	require.True(t, ok)
	require.Equal(t, syncproto.WeatherNone, march.Weather())

	require.Equal(t, []syncproto.Choice{
		{Ref: content.Ref{ID: "pkg.moons.flow.facility"}, Weight: 300},
		{Ref: content.Ref{ID: "baseline.flow.mansion"}, Weight: 50},
	}, levels.Flows("Vow"))

	item, ok := index.Item("pkg.moons.item.Crate")
	require.True(t, ok)
	require.Equal(t, map[string]syncproto.Value{
		"value": syncproto.IntValue(80),
		"label": syncproto.TextValue("Old crate"),
		"heavy": syncproto.BoolValue(true),
	}, item.Overrides())
}

func TestPackage_PopulateDoesNotShareItems(t *testing.T) {
	pkg, err := Parse([]byte(moonsManifest))
	require.NoError(t, err)

	a, b := world.NewIndex(), world.NewIndex()
	pkg.Populate(world.NewLevels(), a)
	pkg.Populate(world.NewLevels(), b)

	itemA, _ := a.Item("pkg.moons.item.Crate")
	itemB, _ := b.Item("pkg.moons.item.Crate")
	itemA.SetOverride("value", syncproto.IntValue(1))
	require.Equal(t, syncproto.IntValue(80), itemB.Overrides()["value"])
}

// === Unit Tests: Load ===

func TestLoad_WrapsPath(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "name: nameless")

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidManifest)
	require.Contains(t, err.Error(), "bad.yaml")

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadBaseline(t *testing.T) {
	path := writeFile(t, t.TempDir(), "baseline.yaml", baselineManifest)

	pkg, err := LoadBaseline(path)
	require.NoError(t, err)
	require.Equal(t, path, pkg.Path)
	require.Same(t, content.Baseline, pkg.Source())
}

func TestLoadDir_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yml", "id: pkg.b")
	writeFile(t, dir, "a.yaml", "id: pkg.a")
	writeFile(t, dir, "notes.txt", "id: pkg.skip")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0700))

	pkgs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	require.Equal(t, "pkg.a", pkgs[0].Source().ID)
	require.Equal(t, "pkg.b", pkgs[1].Source().ID)
}

func TestLoadDir_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "id: pkg.same")
	writeFile(t, dir, "b.yaml", "id: pkg.same")

	_, err := LoadDir(dir)
	require.ErrorIs(t, err, ErrInvalidManifest)
}

func TestLoadDir_Missing(t *testing.T) {
	pkgs, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, pkgs)
}
