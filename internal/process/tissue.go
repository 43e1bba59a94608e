package process

import (
	"fmt"
	"math"

	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

// DefaultTissueThreshold is the color distance from white above which a pixel counts as tissue.
const DefaultTissueThreshold = 85

// Mask is a binary image covering a whole slide at some downsample of level 0.
type Mask struct {
	Image      *data.Image
	Downsample float64
}

// TissueMask thresholds the coarsest level of p on the Euclidean RGB distance from white.
func TissueMask(p wsi.Pyramid, threshold int) (*Mask, error) {
	level := p.LevelCount() - 1
	img, err := p.LevelImage(level)
	if err != nil {
		return nil, err
	}

	out := data.NewImage(img.Width, img.Height, 1)
	out.Spacing = img.Spacing
	limit := float64(threshold)
	for y := range img.Height {
		for x := range img.Width {
			var sum float64
			for c := range min(3, img.Channels) {
				d := 255 - float64(img.At(x, y, c))
				sum += d * d
			}
			if math.Sqrt(sum) > limit {
				out.Set(x, y, 0, 1)
			}
		}
	}

	return &Mask{Image: out, Downsample: p.LevelDownsample(level)}, nil
}

// MaskFromLabels treats every non-zero label of a segmentation output as foreground.
// fullWidth is the level 0 width of the slide the labels cover.
func MaskFromLabels(obj data.Object, fullWidth int) (*Mask, error) {
	var img *data.Image
	switch o := obj.(type) {
	case *data.Image:
		img = o
	case *data.Pyramid:
		if len(o.Levels) > 0 {
			img = o.Levels[len(o.Levels)-1]
		}
	}
	if img == nil || img.Width == 0 {
		return nil, fmt.Errorf("%w: %T has no label image", ErrMask, obj)
	}

	out := data.NewImage(img.Width, img.Height, 1)
	for i := range out.Pix {
		if img.Pix[i*img.Channels] > 0 {
			out.Pix[i] = 1
		}
	}
	return &Mask{Image: out, Downsample: float64(fullWidth) / float64(img.Width)}, nil
}

// Coverage returns the fraction of foreground mask pixels inside a level 0 rectangle.
func (m *Mask) Coverage(x, y, width, height float64) float64 {
	x0 := int(math.Floor(x / m.Downsample))
	y0 := int(math.Floor(y / m.Downsample))
	x1 := int(math.Ceil((x + width) / m.Downsample))
	y1 := int(math.Ceil((y + height) / m.Downsample))

	var total, hit int
	for my := max(y0, 0); my < min(y1, m.Image.Height); my++ {
		for mx := max(x0, 0); mx < min(x1, m.Image.Width); mx++ {
			total++
			if m.Image.At(mx, my, 0) > 0 {
				hit++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}
