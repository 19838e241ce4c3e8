package variables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnv(t *testing.T) {
	t.Run("falls back to default", func(t *testing.T) {
		t.Setenv("STAGEDELIGHT_TEST_VAR", "")
		assert.Equal(t, "fallback", Env("STAGEDELIGHT_TEST_VAR", "fallback"))
	})

	t.Run("prefers environment", func(t *testing.T) {
		t.Setenv("STAGEDELIGHT_TEST_VAR", "set")
		assert.Equal(t, "set", Env("STAGEDELIGHT_TEST_VAR", "fallback"))
	})
}

func TestParse(t *testing.T) {
	n, err := ParseInt(" 5 ")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = ParseInt("five")
	assert.Error(t, err)

	d, err := ParseDuration("5m")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = ParseDuration("-1s")
	require.NoError(t, err)
	assert.True(t, d < 0)
}

func TestParseCSV(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, ParseCSV(" http://a, ,http://b,"))
	assert.Nil(t, ParseCSV(""))
}
