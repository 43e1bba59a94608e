// Package data holds the in-memory objects that flow between pipeline stages.
package data

import "fmt"

// Kind identifies the concrete type of an Object.
type Kind string

const (
	KindImage   Kind = "image"
	KindPyramid Kind = "pyramid"
	KindTensor  Kind = "tensor"
	KindBoxSet  Kind = "boxset"
)

// Object is anything a pipeline stage can produce.
type Object interface {
	Kind() Kind
}

// Spacing is the physical size of one pixel along x and y.
type Spacing [2]float64

// UnitSpacing is the spacing of an unscaled image.
var UnitSpacing = Spacing{1, 1}

// Image is an interleaved 8-bit image.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
	Spacing  Spacing
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
		Spacing:  UnitSpacing,
	}
}

func (*Image) Kind() Kind { return KindImage }

// At returns the value of channel c at (x, y).
func (im *Image) At(x, y, c int) uint8 {
	return im.Pix[(y*im.Width+x)*im.Channels+c]
}

// Set stores v in channel c at (x, y).
func (im *Image) Set(x, y, c int, v uint8) {
	im.Pix[(y*im.Width+x)*im.Channels+c] = v
}

func (im *Image) String() string {
	return fmt.Sprintf("image %dx%dx%d", im.Width, im.Height, im.Channels)
}

// Pyramid is a stack of images, finest first, each half the size of the previous.
type Pyramid struct {
	Levels []*Image
}

func (*Pyramid) Kind() Kind { return KindPyramid }

// BuildPyramid derives coarser levels from base by 2x nearest downsampling
// until either side would drop below minSide.
func BuildPyramid(base *Image, minSide int) *Pyramid {
	p := &Pyramid{Levels: []*Image{base}}
	cur := base
	for cur.Width/2 >= minSide && cur.Height/2 >= minSide {
		next := NewImage(cur.Width/2, cur.Height/2, cur.Channels)
		next.Spacing = Spacing{cur.Spacing[0] * 2, cur.Spacing[1] * 2}
		for y := range next.Height {
			for x := range next.Width {
				for c := range cur.Channels {
					next.Set(x, y, c, cur.At(x*2, y*2, c))
				}
			}
		}
		p.Levels = append(p.Levels, next)
		cur = next
	}
	return p
}
