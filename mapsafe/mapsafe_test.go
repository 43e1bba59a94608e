package mapsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	m := map[string]string{
		"size":  " 256 ",
		"ratio": "0.5",
		"cpu":   "1",
		"name":  "tumor",
		"bad":   "abc",
		"blank": "  ",
	}

	size, ok, err := Lookup[int](m, "size")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 256, size)

	ratio, ok, err := Lookup[float64](m, "ratio")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, ratio, 1e-9)

	cpu, _, err := Lookup[bool](m, "cpu")
	assert.NoError(t, err)
	assert.True(t, cpu)

	_, ok, err = Lookup[int](m, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = Lookup[int](m, "blank")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = Lookup[int](m, "bad")
	assert.True(t, ok)
	assert.EqualError(t, err, `bad: "abc" is not an integer`)
}

func TestGet(t *testing.T) {
	m := map[string]string{"overlap": "0.25", "bad": "x"}

	assert.InDelta(t, 0.25, Get(m, "overlap", 0.0), 1e-9)
	assert.Equal(t, 7, Get(m, "bad", 7))
	assert.Equal(t, "fallback", Get(m, "missing", "fallback"))
}
