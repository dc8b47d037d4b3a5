package taxonomy

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// overlayEntry overrides the wording of one existing archetype. Codes not
// present in the built-in set are rejected: the taxonomy is closed.
type overlayEntry struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Guidance      string `yaml:"guidance"`
	MinComponents int    `yaml:"min_components"`
}

// LoadOverlay reads a YAML overlay file and returns the default registry
// with the overlay's wording applied.
func LoadOverlay(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read overlay %s", path)
	}

	// The YAML has a top-level "taxonomy" key
	var wrapper struct {
		Taxonomy struct {
			Archetypes []overlayEntry `yaml:"archetypes"`
		} `yaml:"taxonomy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "taxonomy: parse overlay")
	}

	merged := make([]Archetype, len(defaults))
	copy(merged, defaults)
	byCode := make(map[string]int, len(merged))
	for i, a := range merged {
		byCode[a.Code] = i
	}

	for _, e := range wrapper.Taxonomy.Archetypes {
		i, ok := byCode[e.Code]
		if !ok {
			return nil, eris.Errorf("taxonomy: overlay references unknown archetype %q", e.Code)
		}
		if e.Name != "" {
			merged[i].Name = e.Name
		}
		if e.Description != "" {
			merged[i].Description = e.Description
		}
		if e.Guidance != "" {
			merged[i].Guidance = e.Guidance
		}
		if e.MinComponents > 0 {
			merged[i].MinComponents = e.MinComponents
		}
	}

	return newRegistry(merged), nil
}
