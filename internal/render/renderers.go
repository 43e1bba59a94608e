package render

import (
	"fmt"
	"strconv"

	"github.com/ekisa-team/pathflow/internal/data"
)

// base stores the connected input.
type base struct {
	input data.Object
}

// Input returns the connected data object, nil before Connect.
func (b *base) Input() data.Object { return b.input }

func (b *base) accept(kind Kind, obj data.Object, kinds ...data.Kind) error {
	if obj == nil {
		return fmt.Errorf("%w: %s: nil input", ErrInput, kind)
	}
	for _, k := range kinds {
		if obj.Kind() == k {
			b.input = obj
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot display %s", ErrInput, kind, obj.Kind())
}

// assign stores v in dst only when err is nil.
func assign[T any](dst *T) func(T, error) error {
	return func(v T, err error) error {
		if err == nil {
			*dst = v
		}
		return err
	}
}

// ImagePyramid draws the slide itself. It has no persisted attributes.
type ImagePyramid struct {
	base
}

// NewImagePyramid returns an unconnected slide renderer.
func NewImagePyramid() *ImagePyramid { return &ImagePyramid{} }

// Kind returns KindImagePyramid.
func (*ImagePyramid) Kind() Kind { return KindImagePyramid }

// Connect accepts a pyramid or a single image.
func (r *ImagePyramid) Connect(obj data.Object) error {
	return r.accept(KindImagePyramid, obj, data.KindPyramid, data.KindImage)
}

// Attributes returns nil.
func (*ImagePyramid) Attributes() []Attribute { return nil }

// SetAttribute always fails with ErrUnknownAttribute.
func (*ImagePyramid) SetAttribute(name string, _ []string) error {
	return fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
}

// Segmentation colors each label of a label image.
type Segmentation struct {
	base
	Opacity       float32
	BorderOpacity float32
	Colors        Colors
}

// NewSegmentation returns a segmentation renderer at half opacity with opaque borders.
func NewSegmentation() *Segmentation {
	return &Segmentation{Opacity: 0.5, BorderOpacity: 1, Colors: Colors{}}
}

// Kind returns KindSegmentation.
func (*Segmentation) Kind() Kind { return KindSegmentation }

// Connect accepts a label image or a label pyramid.
func (r *Segmentation) Connect(obj data.Object) error {
	return r.accept(KindSegmentation, obj, data.KindImage, data.KindPyramid)
}

// Attributes lists opacity, border-opacity and, when set, label-colors.
func (r *Segmentation) Attributes() []Attribute {
	attrs := []Attribute{
		{Name: "opacity", Values: []string{formatFloat(r.Opacity)}},
		{Name: "border-opacity", Values: []string{formatFloat(r.BorderOpacity)}},
	}
	if len(r.Colors) > 0 {
		attrs = append(attrs, Attribute{Name: "label-colors", Values: r.Colors.values()})
	}
	return attrs
}

// SetAttribute parses one persisted attribute. The renderer is unchanged on error.
func (r *Segmentation) SetAttribute(name string, values []string) error {
	var err error
	switch name {
	case "opacity":
		err = assign(&r.Opacity)(parseFloat(name, values, 0, 1))
	case "border-opacity":
		err = assign(&r.BorderOpacity)(parseFloat(name, values, 0, 1))
	case "label-colors":
		err = assign(&r.Colors)(parseColors(name, values))
	default:
		err = fmt.Errorf("%w: %s on %s", ErrUnknownAttribute, name, KindSegmentation)
	}
	return err
}

// Heatmap blends one color per channel of a probability tensor.
type Heatmap struct {
	base
	MaxOpacity    float32
	MinConfidence float32
	Interpolation bool
	Colors        Colors
}

// NewHeatmap returns an interpolating heatmap renderer with default opacity and confidence.
func NewHeatmap() *Heatmap {
	return &Heatmap{MaxOpacity: 0.3, MinConfidence: 0.5, Interpolation: true, Colors: Colors{}}
}

// Kind returns KindHeatmap.
func (*Heatmap) Kind() Kind { return KindHeatmap }

// Connect accepts a probability tensor.
func (r *Heatmap) Connect(obj data.Object) error {
	return r.accept(KindHeatmap, obj, data.KindTensor)
}

// Attributes lists the display settings and, when set, channel-colors.
func (r *Heatmap) Attributes() []Attribute {
	attrs := []Attribute{
		{Name: "max-opacity", Values: []string{formatFloat(r.MaxOpacity)}},
		{Name: "min-confidence", Values: []string{formatFloat(r.MinConfidence)}},
		{Name: "interpolation", Values: []string{strconv.FormatBool(r.Interpolation)}},
	}
	if len(r.Colors) > 0 {
		attrs = append(attrs, Attribute{Name: "channel-colors", Values: r.Colors.values()})
	}
	return attrs
}

// SetAttribute parses one persisted attribute. The renderer is unchanged on error.
func (r *Heatmap) SetAttribute(name string, values []string) error {
	var err error
	switch name {
	case "max-opacity":
		err = assign(&r.MaxOpacity)(parseFloat(name, values, 0, 1))
	case "min-confidence":
		err = assign(&r.MinConfidence)(parseFloat(name, values, 0, 1))
	case "interpolation":
		err = assign(&r.Interpolation)(parseBool(name, values))
	case "channel-colors":
		err = assign(&r.Colors)(parseColors(name, values))
	default:
		err = fmt.Errorf("%w: %s on %s", ErrUnknownAttribute, name, KindHeatmap)
	}
	return err
}

// BoundingBox outlines detections.
type BoundingBox struct {
	base
	LineWidth float32
	Colors    Colors
}

// NewBoundingBox returns a box renderer with 2 pixel lines.
func NewBoundingBox() *BoundingBox {
	return &BoundingBox{LineWidth: 2, Colors: Colors{}}
}

// Kind returns KindBoundingBox.
func (*BoundingBox) Kind() Kind { return KindBoundingBox }

// Connect accepts a box set.
func (r *BoundingBox) Connect(obj data.Object) error {
	return r.accept(KindBoundingBox, obj, data.KindBoxSet)
}

// Attributes lists line-width and, when set, label-colors.
func (r *BoundingBox) Attributes() []Attribute {
	attrs := []Attribute{
		{Name: "line-width", Values: []string{formatFloat(r.LineWidth)}},
	}
	if len(r.Colors) > 0 {
		attrs = append(attrs, Attribute{Name: "label-colors", Values: r.Colors.values()})
	}
	return attrs
}

// SetAttribute parses one persisted attribute. The renderer is unchanged on error.
func (r *BoundingBox) SetAttribute(name string, values []string) error {
	var err error
	switch name {
	case "line-width":
		err = assign(&r.LineWidth)(parseFloat(name, values, 0, 100))
	case "label-colors":
		err = assign(&r.Colors)(parseColors(name, values))
	default:
		err = fmt.Errorf("%w: %s on %s", ErrUnknownAttribute, name, KindBoundingBox)
	}
	return err
}
