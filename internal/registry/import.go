package registry

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/lightstage/internal/scene"
	"github.com/dokzlo13/lightstage/internal/target"
)

// Definitions is the on-disk layout of a definitions file. Both maps are keyed
// by registry id.
type Definitions struct {
	Groups map[int]target.Group `yaml:"groups"`
	Scenes map[int]scene.Scene  `yaml:"scenes"`
}

// ImportFile reads a YAML definitions file and puts every entry into the
// registries, replacing entries with the same id.
func ImportFile(path string, scenes *Scenes, groups *Groups) (int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read definitions: %w", err)
	}
	return Import(data, scenes, groups)
}

// Import is ImportFile over an in-memory document.
func Import(data []byte, scenes *Scenes, groups *Groups) (int, int, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return 0, 0, fmt.Errorf("failed to parse definitions: %w", err)
	}

	// Validate everything first so a bad document leaves the registries untouched.
	for id := range defs.Groups {
		if id <= 0 {
			return 0, 0, fmt.Errorf("invalid group id %d", id)
		}
	}
	for id := range defs.Scenes {
		if id <= 0 {
			return 0, 0, fmt.Errorf("invalid scene id %d", id)
		}
	}

	for id, g := range defs.Groups {
		groups.Put(id, g)
	}
	for id, s := range defs.Scenes {
		s.ID = id
		scenes.Put(s)
	}

	log.Info().
		Int("scenes", len(defs.Scenes)).
		Int("groups", len(defs.Groups)).
		Msg("Imported definitions")
	return len(defs.Scenes), len(defs.Groups), nil
}
