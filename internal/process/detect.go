package process

import (
	"fmt"
	"math"
	"sort"

	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/model"
)

// YOLO configures TinyYOLO style decoding.
type YOLO struct {
	InputSize model.Size
	Classes   int
	Anchors   model.Anchors
	Threshold float32
}

// Decode turns the two raw output grids of a detector into boxes in input pixels.
// Output i is decoded with anchor level i. Boxes scoring below Threshold are dropped.
func (y YOLO) Decode(outputs []*data.Tensor) ([]data.Box, error) {
	if len(outputs) != model.AnchorLevels {
		return nil, fmt.Errorf("%w: detector has %d outputs, want %d", ErrOutputShape, len(outputs), model.AnchorLevels)
	}

	per := 5 + y.Classes
	var boxes []data.Box
	for lvl, out := range outputs {
		grid, err := out.Spatial(model.AnchorsPerLevel * per)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %v", ErrOutputShape, lvl, err)
		}

		gh, gw := grid.Shape[0], grid.Shape[1]
		for cy := range gh {
			for cx := range gw {
				cell := grid.Data[(cy*gw+cx)*model.AnchorsPerLevel*per:]
				for a := range model.AnchorsPerLevel {
					v := cell[a*per : (a+1)*per]

					obj := sigmoid(v[4])
					class, best := data.ArgMax(v[5:])
					score := obj * sigmoid(best)
					if score < y.Threshold {
						continue
					}

					anchor := y.Anchors[lvl][a]
					bx := (sigmoid(v[0]) + float32(cx)) / float32(gw) * float32(y.InputSize.Width)
					by := (sigmoid(v[1]) + float32(cy)) / float32(gh) * float32(y.InputSize.Height)
					bw := float32(math.Exp(float64(v[2]))) * anchor.Width
					bh := float32(math.Exp(float64(v[3]))) * anchor.Height

					boxes = append(boxes, data.Box{
						X:      bx - bw/2,
						Y:      by - bh/2,
						Width:  bw,
						Height: bh,
						Score:  score,
						Class:  class,
					})
				}
			}
		}
	}
	return boxes, nil
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// NMS keeps the highest scoring box of every group of same-class boxes whose
// IoU exceeds threshold.
func NMS(boxes []data.Box, threshold float32) []data.Box {
	sorted := append([]data.Box(nil), boxes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var kept []data.Box
	for _, b := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.Class == b.Class && k.IoU(b) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, b)
		}
	}
	return kept
}

// BoxAccumulator gathers per-patch detections into one set in level 0 pixels.
type BoxAccumulator struct {
	set data.BoxSet
}

// Add maps boxes from network input pixels of patch p to level 0. scaleX and
// scaleY convert input pixels to patch pixels; downsample is the patch level's.
func (a *BoxAccumulator) Add(p Patch, boxes []data.Box, scaleX, scaleY float32, downsample float64) {
	ds := float32(downsample)
	for _, b := range boxes {
		b.X = (float32(p.X) + b.X*scaleX) * ds
		b.Y = (float32(p.Y) + b.Y*scaleY) * ds
		b.Width *= scaleX * ds
		b.Height *= scaleY * ds
		a.set.Add(b)
	}
}

// Result returns every accumulated box in level 0 coordinates.
func (a *BoxAccumulator) Result() *data.BoxSet {
	return &data.BoxSet{Boxes: append([]data.Box(nil), a.set.Boxes...)}
}
