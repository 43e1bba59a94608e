package process

import (
	"fmt"

	"github.com/ekisa-team/pathflow/internal/data"
)

// HeatmapStitcher collects one class vector per patch into a [rows, cols, classes] grid.
// Patches that were never added keep zero probability.
type HeatmapStitcher struct {
	cols    int
	rows    int
	classes int
	grid    *data.Tensor
}

// NewHeatmapStitcher allocates the grid. spacing is the physical size of one grid cell.
func NewHeatmapStitcher(cols, rows, classes int, spacing data.Spacing) *HeatmapStitcher {
	grid := data.NewTensor(rows, cols, classes)
	grid.Spacing = spacing
	return &HeatmapStitcher{cols: cols, rows: rows, classes: classes, grid: grid}
}

// Add stores the network output for p.
func (s *HeatmapStitcher) Add(p Patch, out *data.Tensor) error {
	if out.Len() != s.classes {
		return fmt.Errorf("%w: classification output %v, want %d values", ErrOutputShape, out.Shape, s.classes)
	}
	if p.Col >= s.cols || p.Row >= s.rows {
		return fmt.Errorf("%w: patch (%d,%d) outside %dx%d grid", ErrOutputShape, p.Col, p.Row, s.cols, s.rows)
	}
	copy(s.grid.Data[(p.Row*s.cols+p.Col)*s.classes:], out.Data)
	return nil
}

// Result returns the rows x cols x classes probability grid.
func (s *HeatmapStitcher) Result() *data.Tensor {
	return s.grid
}

// SegmentationStitcher pastes per-patch label maps into one label image at the patch level.
type SegmentationStitcher struct {
	classes int
	labels  *data.Image
}

// NewSegmentationStitcher allocates a width x height label image.
func NewSegmentationStitcher(width, height, classes int, spacing data.Spacing) *SegmentationStitcher {
	labels := data.NewImage(width, height, 1)
	labels.Spacing = spacing
	return &SegmentationStitcher{classes: classes, labels: labels}
}

// Add converts out to labels, scales them to the patch size and pastes them at the patch origin.
func (s *SegmentationStitcher) Add(p Patch, out *data.Tensor) error {
	hwc, err := out.Spatial(s.classes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputShape, err)
	}

	tile := Labels(hwc)
	if tile.Width != p.Image.Width || tile.Height != p.Image.Height {
		tile = Resize(tile, p.Image.Width, p.Image.Height, true)
	}

	for ty := range tile.Height {
		y := p.Y + ty
		if y >= s.labels.Height {
			break
		}
		for tx := range tile.Width {
			x := p.X + tx
			if x >= s.labels.Width {
				break
			}
			s.labels.Pix[y*s.labels.Width+x] = tile.Pix[ty*tile.Width+tx]
		}
	}
	return nil
}

// Labels returns the stitched label image.
func (s *SegmentationStitcher) Labels() *data.Image {
	return s.labels
}

// Result returns the stitched labels as a pyramid.
func (s *SegmentationStitcher) Result() *data.Pyramid {
	return data.BuildPyramid(s.labels, minPyramidSide)
}

const minPyramidSide = 64
