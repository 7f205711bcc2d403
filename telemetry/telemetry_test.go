package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePGISAM(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"", Normal},
		{"debug1", Debug1},
		{"debug3 sql", Debug3 | SQL},
		{"debug3,sql", Debug3 | SQL},
		{"SQL", SQL},
		{"bogus debug2", Debug2},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParsePGISAM(c.in), c.in)
	}
}

func TestTraced(t *testing.T) {
	assert.True(t, (Debug3 | SQL).Traced())
	assert.False(t, Debug3.Traced())
}

func TestSlogLevelFloor(t *testing.T) {
	assert.Equal(t, "DEBUG", Debug1.slogLevel().String())
	assert.Equal(t, "INFO", Normal.slogLevel().String())
	assert.Equal(t, "INFO", SQL.slogLevel().String())
}
