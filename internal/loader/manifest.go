// Package loader reads content-package manifests from YAML and turns them
// into registrable content and world fixtures.
package loader

// Manifest is the on-disk description of one content package.
//
//	id: pkg.moons
//	name: Moons
//	templates: [ScrapBox, Turret]
//	references: [Flowerman]
//	levels:
//	  - name: Vow
//	    weather: Rainy
//	    size: {factor: 1.4, min: 1, max: 2}
//	    flows:
//	      - {flow: facility, weight: 300}
//	      - {ref: baseline.flow.mansion, weight: 50}
//	items:
//	  - id: pkg.moons.item.Crate
//	    fields:
//	      value: {kind: int, value: "80"}
type Manifest struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Templates  []string        `yaml:"templates"`
	References []string        `yaml:"references"`
	Levels     []LevelManifest `yaml:"levels"`
	Items      []ItemManifest  `yaml:"items"`
}

// LevelManifest describes one level and its weighted flow table.
type LevelManifest struct {
	Name    string         `yaml:"name"`
	Weather string         `yaml:"weather"`
	Size    *SizeManifest  `yaml:"size"`
	Flows   []FlowManifest `yaml:"flows"`
}

// SizeManifest bounds a level's generation size.
type SizeManifest struct {
	Factor float64 `yaml:"factor"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
}

// FlowManifest is one weighted flow. Flow names a flow of the declaring
// package; Ref names any flow by its full id and wins when both are set.
type FlowManifest struct {
	Flow   string `yaml:"flow"`
	Ref    string `yaml:"ref"`
	Weight int    `yaml:"weight"`
}

// ItemManifest is one overridable content item with its default fields.
type ItemManifest struct {
	ID     string                   `yaml:"id"`
	Fields map[string]FieldManifest `yaml:"fields"`
}

// FieldManifest is one scalar field. Kind is int, float, text or bool.
type FieldManifest struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}
