package process

import (
	"context"
	"fmt"
	"math"

	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

// Patch is one tile drawn from a pyramid level.
type Patch struct {
	Level int
	Col   int
	Row   int
	X     int
	Y     int
	Image *data.Image
}

// Tiler walks a pyramid level in fixed size patches.
type Tiler struct {
	Pyramid       wsi.Pyramid
	Level         int
	Width         int
	Height        int
	Overlap       float64
	Mask          *Mask
	MaskThreshold float64
}

// Step returns the distance between neighbouring patch origins.
func (t *Tiler) Step() (int, int) {
	sx := max(1, int(math.Round(float64(t.Width)*(1-t.Overlap))))
	sy := max(1, int(math.Round(float64(t.Height)*(1-t.Overlap))))
	return sx, sy
}

// Grid returns the number of patch columns and rows covering the level.
func (t *Tiler) Grid() (int, int) {
	w, h := t.Pyramid.LevelSize(t.Level)
	sx, sy := t.Step()
	return ceilDiv(w, sx), ceilDiv(h, sy)
}

// Each calls fn for every patch that passes the mask, in row-major order.
// It stops early when ctx is done or fn fails.
func (t *Tiler) Each(ctx context.Context, fn func(Patch) error) error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("invalid patch size %dx%d", t.Width, t.Height)
	}

	cols, rows := t.Grid()
	sx, sy := t.Step()
	ds := t.Pyramid.LevelDownsample(t.Level)

	for row := range rows {
		for col := range cols {
			if err := ctx.Err(); err != nil {
				return err
			}

			x, y := col*sx, row*sy
			if t.Mask != nil {
				cov := t.Mask.Coverage(float64(x)*ds, float64(y)*ds, float64(t.Width)*ds, float64(t.Height)*ds)
				if cov < t.MaskThreshold {
					continue
				}
			}

			img, err := t.Pyramid.Region(t.Level, x, y, t.Width, t.Height)
			if err != nil {
				return err
			}
			if err := fn(Patch{Level: t.Level, Col: col, Row: row, X: x, Y: y, Image: img}); err != nil {
				return err
			}
		}
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
