package pipeline

import (
	"fmt"
	"math"

	"github.com/ekisa-team/pathflow/internal/model"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

// LowResLevel returns the coarsest level whose sides are both at least twice the
// model input. Levels are scanned finest first; the level before the first
// violating one wins, or the coarsest level when none violates.
func LowResLevel(p wsi.Pyramid, input model.Size) (int, error) {
	count := p.LevelCount()
	for level := range count {
		w, h := p.LevelSize(level)
		if w < 2*input.Width || h < 2*input.Height {
			if level == 0 {
				return 0, fmt.Errorf("%w: level 0 is %dx%d, model needs at least %dx%d",
					ErrArithmeticDegenerate, w, h, 2*input.Width, 2*input.Height)
			}
			return level - 1, nil
		}
	}
	return count - 1, nil
}

// PatchLevel maps a model magnification onto a pyramid level:
// round(log(slide magnification / model magnification) / log(round(level 1 downsample))).
func PatchLevel(p wsi.Pyramid, modelMagnification float64) (int, error) {
	slideMag := p.Magnification()
	if slideMag <= 0 || modelMagnification <= 0 {
		return 0, fmt.Errorf("%w: magnification slide=%g model=%g", ErrArithmeticDegenerate, slideMag, modelMagnification)
	}
	if slideMag == modelMagnification {
		return 0, nil
	}

	count := p.LevelCount()
	if count < 2 {
		return 0, fmt.Errorf("%w: single level slide cannot serve %gx from %gx", ErrArithmeticDegenerate, modelMagnification, slideMag)
	}

	ds := math.Round(p.LevelDownsample(1))
	if ds <= 1 {
		return 0, fmt.Errorf("%w: level 1 downsample %g", ErrArithmeticDegenerate, p.LevelDownsample(1))
	}

	level := int(math.Round(math.Log(slideMag/modelMagnification) / math.Log(ds)))
	if level < 0 || level >= count {
		return 0, fmt.Errorf("%w: level %d for %gx from %gx, slide has %d levels",
			ErrArithmeticDegenerate, level, modelMagnification, slideMag, count)
	}
	return level, nil
}
