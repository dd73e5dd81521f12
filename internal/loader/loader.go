package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/syncproto"
	"github.com/zjrosen/levelsync/internal/world"
)

// ErrInvalidManifest wraps every manifest validation failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// Package is a loaded content package. It implements replication.Content.
type Package struct {
	Path     string
	Manifest Manifest

	source     *content.Source
	templates  []*content.Template
	references []*content.Reference
	levels     []level
	items      []*world.Item
}

type level struct {
	name    string
	weather syncproto.Weather
	size    *world.Size
	flows   []syncproto.Choice
}

// Source returns the package's content source.
func (p *Package) Source() *content.Source { return p.source }

// Templates returns the templates the package contributes directly.
func (p *Package) Templates() []*content.Template { return slices.Clone(p.templates) }

// References returns the package's template slots, which the registry may
// restore to baseline templates.
func (p *Package) References() []*content.Reference { return slices.Clone(p.references) }

// Items returns fresh copies of the package's overridable items.
func (p *Package) Items() []*world.Item {
	out := make([]*world.Item, 0, len(p.items))
	for _, it := range p.items {
		out = append(out, world.NewItem(it.UniqueID(), it.Overrides()))
	}
	return out
}

// LevelNames returns the declared levels in manifest order.
func (p *Package) LevelNames() []string {
	names := make([]string, 0, len(p.levels))
	for _, l := range p.levels {
		names = append(names, l.name)
	}
	return names
}

// Size returns the declared size bounds of the named level.
func (p *Package) Size(levelName string) (world.Size, bool) {
	for _, l := range p.levels {
		if l.name == levelName && l.size != nil {
			return *l.size, true
		}
	}
	return world.Size{}, false
}

// Populate adds the package's levels and items to a participant's world.
// Every call builds new Level and Item values so participants never share
// mutable state.
func (p *Package) Populate(levels *world.Levels, index *world.Index) {
	for _, l := range p.levels {
		levels.Add(world.NewLevel(l.name, l.weather), l.flows...)
	}
	for _, it := range p.Items() {
		index.Add(it)
	}
}

// Load reads and validates the manifest at path under a non-reserved source.
func Load(path string) (*Package, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	pkg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pkg.Path = path
	return pkg, nil
}

// LoadBaseline reads the baseline manifest. Its templates belong to the
// reserved baseline source and it may not declare references.
func LoadBaseline(path string) (*Package, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline manifest: %w", err)
	}
	pkg, err := ParseBaseline(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pkg.Path = path
	return pkg, nil
}

// LoadDir loads every .yaml/.yml manifest in dir in file-name order, so all
// processes reading the same directory contribute in the same order. A
// missing directory yields no packages.
func LoadDir(dir string) ([]*Package, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		log.Info(log.CatLoader, "package directory not found", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pkgs := make([]*Package, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		pkg, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[pkg.source.ID]; dup {
			return nil, fmt.Errorf("%w: package %s declared by both %s and %s", ErrInvalidManifest, pkg.source.ID, prev, name)
		}
		seen[pkg.source.ID] = name
		pkgs = append(pkgs, pkg)
	}
	log.Info(log.CatLoader, "loaded packages", "dir", dir, "count", len(pkgs))
	return pkgs, nil
}

// Parse decodes and validates a package manifest.
func Parse(data []byte) (*Package, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidManifest)
	}
	if m.ID == content.Baseline.ID || m.ID == content.Internal.ID {
		return nil, fmt.Errorf("%w: id %q is reserved", ErrInvalidManifest, m.ID)
	}
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return build(m, &content.Source{ID: m.ID, Name: name})
}

// ParseBaseline decodes and validates the baseline manifest.
func ParseBaseline(data []byte) (*Package, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse baseline manifest: %w", err)
	}
	if m.ID != "" && m.ID != content.Baseline.ID {
		return nil, fmt.Errorf("%w: baseline manifest id must be %q", ErrInvalidManifest, content.Baseline.ID)
	}
	if len(m.References) > 0 {
		return nil, fmt.Errorf("%w: baseline manifest cannot declare references", ErrInvalidManifest)
	}
	m.ID = content.Baseline.ID
	return build(m, content.Baseline)
}

func build(m Manifest, source *content.Source) (*Package, error) {
	pkg := &Package{Manifest: m, source: source}

	seen := make(map[string]bool, len(m.Templates))
	for _, name := range m.Templates {
		if name == "" {
			return nil, fmt.Errorf("%w: empty template name", ErrInvalidManifest)
		}
		if seen[name] {
			log.Warn(log.CatLoader, "duplicate template in manifest", "package", source.ID, "template", name)
			continue
		}
		seen[name] = true
		pkg.templates = append(pkg.templates, content.NewTemplate(source, name))
	}
	for _, name := range m.References {
		if name == "" {
			return nil, fmt.Errorf("%w: empty reference name", ErrInvalidManifest)
		}
		pkg.references = append(pkg.references, content.NewReference(content.NewTemplate(source, name)))
	}

	levelNames := make(map[string]bool, len(m.Levels))
	for _, lm := range m.Levels {
		l, err := buildLevel(source, lm)
		if err != nil {
			return nil, err
		}
		if levelNames[l.name] {
			return nil, fmt.Errorf("%w: duplicate level %q", ErrInvalidManifest, l.name)
		}
		levelNames[l.name] = true
		pkg.levels = append(pkg.levels, l)
	}

	for _, im := range m.Items {
		item, err := buildItem(im)
		if err != nil {
			return nil, err
		}
		pkg.items = append(pkg.items, item)
	}
	return pkg, nil
}

func buildLevel(source *content.Source, lm LevelManifest) (level, error) {
	if lm.Name == "" {
		return level{}, fmt.Errorf("%w: level name is required", ErrInvalidManifest)
	}
	l := level{name: lm.Name, weather: syncproto.WeatherNone}
	if lm.Weather != "" {
		w, err := syncproto.ParseWeather(lm.Weather)
		if err != nil {
			return level{}, fmt.Errorf("%w: level %s: %w", ErrInvalidManifest, lm.Name, err)
		}
		l.weather = w
	}
	if lm.Size != nil {
		l.size = &world.Size{Factor: lm.Size.Factor, Min: lm.Size.Min, Max: lm.Size.Max}
	}
	for _, fm := range lm.Flows {
		var ref content.Ref
		switch {
		case fm.Ref != "":
			ref = content.Ref{ID: fm.Ref}
		case fm.Flow != "":
			ref = world.FlowRef(source, fm.Flow)
		default:
			return level{}, fmt.Errorf("%w: level %s: flow needs a name or ref", ErrInvalidManifest, lm.Name)
		}
		l.flows = append(l.flows, syncproto.Choice{Ref: ref, Weight: fm.Weight})
	}
	return l, nil
}

func buildItem(im ItemManifest) (*world.Item, error) {
	if im.ID == "" {
		return nil, fmt.Errorf("%w: item id is required", ErrInvalidManifest)
	}
	fields := make(map[string]syncproto.Value, len(im.Fields))
	for name, fm := range im.Fields {
		kind, err := syncproto.ParseValueKind(fm.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: item %s field %s: %w", ErrInvalidManifest, im.ID, name, err)
		}
		v, err := syncproto.ParseValue(kind, fm.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: item %s field %s: %w", ErrInvalidManifest, im.ID, name, err)
		}
		fields[name] = v
	}
	return world.NewItem(im.ID, fields), nil
}
