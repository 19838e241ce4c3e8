// Package roomtype holds the fixed set of room presets a user can pick when joining.
package roomtype

import (
	"fmt"
	"strings"
	"time"
)

type RoomType string

const (
	Conference RoomType = "conference"
	Stage      RoomType = "stage"
	Concert    RoomType = "concert"
	Classroom  RoomType = "classroom"
	Casual     RoomType = "casual"
)

// Default is used when a join request names no room type.
const Default = Conference

// declared keeps the presentation order stable for stats and listings.
var declared = []RoomType{Conference, Stage, Concert, Classroom, Casual}

type Config struct {
	Duration        time.Duration
	Label           string
	MinVotesToStart int
}

// Catalog maps every declared room type to its preset. It is read-only once built.
type Catalog struct {
	configs map[RoomType]Config
}

func DefaultCatalog() *Catalog {
	return &Catalog{configs: map[RoomType]Config{
		Conference: {Duration: 15 * time.Minute, Label: "💼 Conference", MinVotesToStart: 2},
		Stage:      {Duration: 12 * time.Minute, Label: "🎭 Theater Stage", MinVotesToStart: 2},
		Concert:    {Duration: 6 * time.Minute, Label: "🎸 Concert", MinVotesToStart: 2},
		Classroom:  {Duration: 9 * time.Minute, Label: "🎓 Classroom", MinVotesToStart: 2},
		Casual:     {Duration: 3 * time.Minute, Label: "☕ Coffee Shop", MinVotesToStart: 2},
	}}
}

func (c *Catalog) Get(t RoomType) (Config, bool) {
	cfg, ok := c.configs[t]
	return cfg, ok
}

// Types returns the declared room types in their fixed order.
func (c *Catalog) Types() []RoomType {
	out := make([]RoomType, len(declared))
	copy(out, declared)
	return out
}

// Parse resolves a client supplied room type. An empty value maps to Default.
func (c *Catalog) Parse(value string) (RoomType, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return Default, nil
	}
	t := RoomType(value)
	if _, ok := c.configs[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRoomType, value)
	}
	return t, nil
}
