package model

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

const (
	// AnchorLevels is the number of output grids of the supported detector.
	AnchorLevels = 2
	// AnchorsPerLevel is the number of anchor boxes per grid cell.
	AnchorsPerLevel = 3
)

// Anchor is one prior box size in input pixels.
type Anchor struct {
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Anchors holds the priors for each output grid, in network output order.
type Anchors [AnchorLevels][AnchorsPerLevel]Anchor

// ParseAnchors reads exactly AnchorLevels*AnchorsPerLevel width,height pairs
// separated by commas and/or whitespace. Any other count is an error.
func ParseAnchors(r io.Reader) (Anchors, error) {
	var a Anchors

	data, err := io.ReadAll(r)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrAnchors, err)
	}

	fields := strings.FieldsFunc(string(data), func(c rune) bool {
		return c == ',' || unicode.IsSpace(c)
	})

	want := AnchorLevels * AnchorsPerLevel * 2
	if len(fields) != want {
		return a, fmt.Errorf("%w: expected %d values (%d pairs), got %d", ErrAnchors, want, want/2, len(fields))
	}

	values := make([]float32, want)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil || v <= 0 {
			return a, fmt.Errorf("%w: value %d: %q is not a positive number", ErrAnchors, i, f)
		}
		values[i] = float32(v)
	}

	for lvl := range AnchorLevels {
		for k := range AnchorsPerLevel {
			i := (lvl*AnchorsPerLevel + k) * 2
			a[lvl][k] = Anchor{Width: values[i], Height: values[i+1]}
		}
	}
	return a, nil
}

// ReadAnchors opens and parses an anchor file.
func ReadAnchors(path string) (Anchors, error) {
	f, err := os.Open(path)
	if err != nil {
		return Anchors{}, fmt.Errorf("%w: %v", ErrAnchors, err)
	}
	defer f.Close()

	return ParseAnchors(f)
}
