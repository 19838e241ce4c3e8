package roomtype

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type presetFile struct {
	Rooms map[string]presetEntry `yaml:"rooms"`
}

type presetEntry struct {
	DurationSeconds *int    `yaml:"duration_seconds"`
	Label           *string `yaml:"label"`
	MinVotesToStart *int    `yaml:"min_votes_to_start"`
}

// Load builds the default catalog and applies overrides from a YAML file. An empty
// path returns the defaults untouched.
//
//	rooms:
//	  casual:
//	    duration_seconds: 120
//	    min_votes_to_start: 3
func Load(path string) (*Catalog, error) {
	catalog := DefaultCatalog()
	if path == "" {
		return catalog, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room presets: %w", err)
	}
	if err := catalog.apply(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

func (c *Catalog) apply(raw []byte) error {
	var file presetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}

	for name, entry := range file.Rooms {
		t := RoomType(name)
		cfg, ok := c.configs[t]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownRoomType, name)
		}
		if entry.DurationSeconds != nil {
			if *entry.DurationSeconds <= 0 {
				return fmt.Errorf("%w: %s duration_seconds must be positive", ErrInvalidPreset, name)
			}
			cfg.Duration = time.Duration(*entry.DurationSeconds) * time.Second
		}
		if entry.Label != nil {
			cfg.Label = *entry.Label
		}
		if entry.MinVotesToStart != nil {
			if *entry.MinVotesToStart < 1 {
				return fmt.Errorf("%w: %s min_votes_to_start must be at least 1", ErrInvalidPreset, name)
			}
			cfg.MinVotesToStart = *entry.MinVotesToStart
		}
		c.configs[t] = cfg
	}
	return nil
}
