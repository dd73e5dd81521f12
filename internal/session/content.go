package session

import (
	"fmt"

	"github.com/zjrosen/levelsync/internal/loader"
	"github.com/zjrosen/levelsync/internal/world"
)

// Content is one participant's parse of the baseline and package manifests.
type Content struct {
	Baseline *loader.Package
	Packages []*loader.Package
}

// Loader produces a fresh Content. It is called once per participant so no
// two participants share template, level or item values.
type Loader func() (Content, error)

// DiskContent loads the baseline manifest and every package in packagesDir.
func DiskContent(baselinePath, packagesDir string) Loader {
	return func() (Content, error) {
		baseline, err := loader.LoadBaseline(baselinePath)
		if err != nil {
			return Content{}, err
		}
		pkgs, err := loader.LoadDir(packagesDir)
		if err != nil {
			return Content{}, err
		}
		return Content{Baseline: baseline, Packages: pkgs}, nil
	}
}

// ParsedContent parses in-memory manifests. Packages contribute in argument order.
func ParsedContent(baseline []byte, packages ...[]byte) Loader {
	return func() (Content, error) {
		base, err := loader.ParseBaseline(baseline)
		if err != nil {
			return Content{}, err
		}
		pkgs := make([]*loader.Package, 0, len(packages))
		for i, data := range packages {
			pkg, err := loader.Parse(data)
			if err != nil {
				return Content{}, fmt.Errorf("package %d: %w", i, err)
			}
			pkgs = append(pkgs, pkg)
		}
		return Content{Baseline: base, Packages: pkgs}, nil
	}
}

func (c Content) all() []*loader.Package {
	out := make([]*loader.Package, 0, len(c.Packages)+1)
	if c.Baseline != nil {
		out = append(out, c.Baseline)
	}
	return append(out, c.Packages...)
}

// sizes collects declared size bounds by level name. Later packages win.
func (c Content) sizes() map[string]world.Size {
	out := make(map[string]world.Size)
	for _, pkg := range c.all() {
		for _, name := range pkg.LevelNames() {
			if s, ok := pkg.Size(name); ok {
				out[name] = s
			}
		}
	}
	return out
}

// levelSize reports the clamped size of the current level, or 1 when the
// level declares no bounds.
type levelSize struct {
	levels *world.Levels
	sizes  map[string]world.Size
}

func (s levelSize) ClampedSize() float64 {
	size, ok := s.sizes[s.levels.Current()]
	if !ok {
		return 1
	}
	return size.ClampedSize()
}
