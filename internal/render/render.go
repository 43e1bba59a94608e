// Package render describes how pipeline outputs are displayed. Renderers carry
// typed display attributes that round-trip through the attributes.txt format.
package render

import (
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"

	"github.com/ekisa-team/pathflow/internal/data"
)

// Kind identifies a renderer implementation.
type Kind string

const (
	KindImagePyramid Kind = "ImagePyramidRenderer"
	KindSegmentation Kind = "SegmentationRenderer"
	KindHeatmap      Kind = "HeatmapRenderer"
	KindBoundingBox  Kind = "BoundingBoxRenderer"
)

// Attribute is one named display setting.
type Attribute struct {
	Name   string
	Values []string
}

func (a Attribute) String() string {
	return "Attribute " + a.Name + " " + strings.Join(a.Values, " ")
}

// Renderer displays one pipeline output.
type Renderer interface {
	Kind() Kind
	Connect(obj data.Object) error
	Input() data.Object
	Attributes() []Attribute
	SetAttribute(name string, values []string) error
}

// New returns a renderer of the given kind with default settings.
func New(kind Kind) (Renderer, error) {
	switch kind {
	case KindImagePyramid:
		return NewImagePyramid(), nil
	case KindSegmentation:
		return NewSegmentation(), nil
	case KindHeatmap:
		return NewHeatmap(), nil
	case KindBoundingBox:
		return NewBoundingBox(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// FormatAttributes renders the attribute lines of every renderer except image pyramids.
func FormatAttributes(renderers []Renderer) string {
	var b strings.Builder
	for _, r := range renderers {
		if r == nil || r.Kind() == KindImagePyramid {
			continue
		}
		for _, a := range r.Attributes() {
			b.WriteString(a.String())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Colors maps a label or channel index to a display color.
type Colors map[int]color.RGBA

func (c Colors) values() []string {
	labels := make([]int, 0, len(c))
	for l := range c {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	out := make([]string, 0, len(labels)*4)
	for _, l := range labels {
		col := c[l]
		out = append(out,
			strconv.Itoa(l),
			strconv.Itoa(int(col.R)),
			strconv.Itoa(int(col.G)),
			strconv.Itoa(int(col.B)),
		)
	}
	return out
}

// parseColors reads groups of "label r g b" tokens.
func parseColors(name string, values []string) (Colors, error) {
	if len(values)%4 != 0 {
		return nil, fmt.Errorf("%w: %s expects groups of 4 values, got %d", ErrAttributeValue, name, len(values))
	}

	out := make(Colors, len(values)/4)
	for i := 0; i < len(values); i += 4 {
		label, err := strconv.Atoi(values[i])
		if err != nil || label < 0 {
			return nil, fmt.Errorf("%w: %s label %q", ErrAttributeValue, name, values[i])
		}

		var rgb [3]uint8
		for j := range 3 {
			n, err := strconv.Atoi(values[i+1+j])
			if err != nil || n < 0 || n > 255 {
				return nil, fmt.Errorf("%w: %s component %q", ErrAttributeValue, name, values[i+1+j])
			}
			rgb[j] = uint8(n)
		}
		out[label] = color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}
	}
	return out, nil
}

func parseFloat(name string, values []string, lo, hi float32) (float32, error) {
	if len(values) != 1 {
		return 0, fmt.Errorf("%w: %s expects 1 value, got %d", ErrAttributeValue, name, len(values))
	}
	f, err := strconv.ParseFloat(values[0], 32)
	if err != nil || float32(f) < lo || float32(f) > hi {
		return 0, fmt.Errorf("%w: %s %q not in [%g, %g]", ErrAttributeValue, name, values[0], lo, hi)
	}
	return float32(f), nil
}

func parseBool(name string, values []string) (bool, error) {
	if len(values) != 1 {
		return false, fmt.Errorf("%w: %s expects 1 value, got %d", ErrAttributeValue, name, len(values))
	}
	b, err := strconv.ParseBool(values[0])
	if err != nil {
		return false, fmt.Errorf("%w: %s %q", ErrAttributeValue, name, values[0])
	}
	return b, nil
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}
