// Package wsi gives access to whole-slide image pyramids and the renderers
// attached to each slide.
package wsi

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/tiff"

	"github.com/ekisa-team/pathflow/internal/data"
)

// Pyramid is read access to a multi-resolution image. Level 0 is the finest.
type Pyramid interface {
	data.Object
	LevelCount() int
	LevelSize(level int) (width, height int)
	LevelDownsample(level int) float64
	// Magnification is the objective power of level 0.
	Magnification() float64
	Spacing() data.Spacing
	// Region returns a width x height crop at level. Pixels outside the level are white.
	Region(level, x, y, width, height int) (*data.Image, error)
	// LevelImage returns the whole level.
	LevelImage(level int) (*data.Image, error)
}

// MemoryPyramid keeps every level decoded in memory.
type MemoryPyramid struct {
	levels        []*data.Image
	magnification float64
}

var _ Pyramid = (*MemoryPyramid)(nil)

// MinLevelSide stops pyramid construction once a level would be smaller than this.
const MinLevelSide = 64

// NewMemoryPyramid builds coarser levels from base by halving with bilinear resampling.
func NewMemoryPyramid(base *data.Image, magnification float64) *MemoryPyramid {
	levels := []*data.Image{base}
	cur := base
	for cur.Width/2 >= MinLevelSide && cur.Height/2 >= MinLevelSide {
		scaled := resize.Resize(uint(cur.Width/2), uint(cur.Height/2), cur.ToImage(), resize.Bilinear)
		next := data.FromImage(scaled, cur.Channels)
		next.Spacing = data.Spacing{cur.Spacing[0] * 2, cur.Spacing[1] * 2}
		levels = append(levels, next)
		cur = next
	}
	return &MemoryPyramid{levels: levels, magnification: magnification}
}

// Open decodes a PNG, JPEG or TIFF file into a MemoryPyramid.
func Open(path string, magnification float64) (*MemoryPyramid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}

	return NewMemoryPyramid(data.FromImage(img, 3), magnification), nil
}

func (*MemoryPyramid) Kind() data.Kind { return data.KindPyramid }

func (p *MemoryPyramid) LevelCount() int { return len(p.levels) }

func (p *MemoryPyramid) Magnification() float64 { return p.magnification }

func (p *MemoryPyramid) Spacing() data.Spacing { return p.levels[0].Spacing }

func (p *MemoryPyramid) LevelSize(level int) (int, int) {
	if level < 0 || level >= len(p.levels) {
		return 0, 0
	}
	return p.levels[level].Width, p.levels[level].Height
}

func (p *MemoryPyramid) LevelDownsample(level int) float64 {
	if level < 0 || level >= len(p.levels) {
		return 0
	}
	return float64(p.levels[0].Width) / float64(p.levels[level].Width)
}

// LevelImage returns a copy of a whole level.
func (p *MemoryPyramid) LevelImage(level int) (*data.Image, error) {
	if level < 0 || level >= len(p.levels) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLevel, level, len(p.levels))
	}
	src := p.levels[level]
	out := *src
	out.Pix = append([]uint8(nil), src.Pix...)
	return &out, nil
}

// Region copies a window of a level. Pixels outside the level are white.
func (p *MemoryPyramid) Region(level, x, y, width, height int) (*data.Image, error) {
	if level < 0 || level >= len(p.levels) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLevel, level, len(p.levels))
	}
	src := p.levels[level]

	out := data.NewImage(width, height, src.Channels)
	out.Spacing = src.Spacing
	for i := range out.Pix {
		out.Pix[i] = 255
	}

	for dy := range height {
		sy := y + dy
		if sy < 0 || sy >= src.Height {
			continue
		}
		x0, x1 := max(x, 0), min(x+width, src.Width)
		if x1 <= x0 {
			continue
		}
		srcOff := (sy*src.Width + x0) * src.Channels
		dstOff := (dy*width + (x0 - x)) * src.Channels
		copy(out.Pix[dstOff:dstOff+(x1-x0)*src.Channels], src.Pix[srcOff:])
	}
	return out, nil
}
