package roomtype

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	for name, tc := range map[RoomType]struct {
		duration time.Duration
		label    string
	}{
		Conference: {15 * time.Minute, "💼 Conference"},
		Stage:      {12 * time.Minute, "🎭 Theater Stage"},
		Concert:    {6 * time.Minute, "🎸 Concert"},
		Classroom:  {9 * time.Minute, "🎓 Classroom"},
		Casual:     {3 * time.Minute, "☕ Coffee Shop"},
	} {
		name, tc := name, tc
		t.Run(string(name), func(t *testing.T) {
			cfg, ok := catalog.Get(name)
			require.True(t, ok)
			assert.Equal(t, tc.duration, cfg.Duration)
			assert.Equal(t, tc.label, cfg.Label)
			assert.Equal(t, 2, cfg.MinVotesToStart)
		})
	}

	assert.Equal(t, []RoomType{Conference, Stage, Concert, Classroom, Casual}, catalog.Types())
}

func TestParse(t *testing.T) {
	catalog := DefaultCatalog()

	got, err := catalog.Parse("")
	require.NoError(t, err)
	assert.Equal(t, Conference, got)

	got, err = catalog.Parse(" Casual ")
	require.NoError(t, err)
	assert.Equal(t, Casual, got)

	_, err = catalog.Parse("karaoke")
	assert.ErrorIs(t, err, ErrUnknownRoomType)
}

func writePresets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("empty path keeps defaults", func(t *testing.T) {
		catalog, err := Load("")
		require.NoError(t, err)
		cfg, _ := catalog.Get(Casual)
		assert.Equal(t, 3*time.Minute, cfg.Duration)
	})

	t.Run("overrides known types", func(t *testing.T) {
		path := writePresets(t, `
rooms:
  casual:
    duration_seconds: 120
    min_votes_to_start: 3
  stage:
    label: Main Stage
`)
		catalog, err := Load(path)
		require.NoError(t, err)

		casual, _ := catalog.Get(Casual)
		assert.Equal(t, 2*time.Minute, casual.Duration)
		assert.Equal(t, 3, casual.MinVotesToStart)
		assert.Equal(t, "☕ Coffee Shop", casual.Label)

		stage, _ := catalog.Get(Stage)
		assert.Equal(t, "Main Stage", stage.Label)
		assert.Equal(t, 12*time.Minute, stage.Duration)
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		path := writePresets(t, "rooms:\n  karaoke:\n    duration_seconds: 60\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrUnknownRoomType)
	})

	t.Run("rejects invalid thresholds", func(t *testing.T) {
		path := writePresets(t, "rooms:\n  casual:\n    min_votes_to_start: 0\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidPreset)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
