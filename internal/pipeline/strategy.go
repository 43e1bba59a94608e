package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/model"
	"github.com/ekisa-team/pathflow/internal/network"
	"github.com/ekisa-team/pathflow/internal/process"
	"github.com/ekisa-team/pathflow/internal/render"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

// Output names of the built-in pipelines.
const (
	OutputHeatmap      = "heatmap"
	OutputSegmentation = "segmentation"
	OutputBoxes        = "boxes"
	OutputTissue       = "tissue"
)

// Display settings of the pipeline tails.
const (
	heatmapMaxOpacity         = 0.6
	segmentationOpacity       = 0.7
	segmentationBorder        = 1.0
	lowResSegmentationOpacity = 0.4
)

// build is the per-invocation state a strategy reads.
type build struct {
	name      string
	desc      *model.Descriptor
	slide     *wsi.Slide
	selection backend.Selection
	network   network.Config
	logger    *slog.Logger
}

// plan is the assembled graph minus the loaded network.
type plan struct {
	output   string
	renderer render.Renderer
	execute  func(ctx context.Context, net network.Network) (data.Object, error)
}

type strategyKey struct {
	problem    model.Problem
	resolution model.Resolution
}

type strategy func(a *Assembler, b *build) (*plan, error)

var strategies = map[strategyKey]strategy{
	{model.ProblemClassification, model.ResolutionHigh}:  (*Assembler).classificationHigh,
	{model.ProblemSegmentation, model.ResolutionHigh}:    (*Assembler).segmentationHigh,
	{model.ProblemSegmentation, model.ResolutionLow}:     (*Assembler).segmentationLow,
	{model.ProblemObjectDetection, model.ResolutionHigh}: (*Assembler).detectionHigh,
}

// Supported reports whether a problem/resolution pair has a pipeline.
func Supported(problem model.Problem, resolution model.Resolution) bool {
	_, ok := strategies[strategyKey{problem, resolution}]
	return ok
}

func colors(d *model.Descriptor) render.Colors {
	out := make(render.Colors, d.Classes)
	for i := range d.Classes {
		c := d.Color(i)
		out[i] = color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
	}
	return out
}

// patchLevel picks the tiling level for high resolution models.
func (a *Assembler) patchLevel(b *build) (int, error) {
	if b.desc.Magnification == 0 {
		b.logger.Warn("Model magnification not specified, using level 0")
		return 0, nil
	}
	return PatchLevel(b.slide.Pyramid, b.desc.Magnification)
}

// mask returns the tiling mask: a fresh tissue mask when the model sets a
// threshold, otherwise the slide's tissue pipeline output if one has run.
func (a *Assembler) mask(b *build) (*process.Mask, error) {
	if b.desc.TissueThreshold != nil {
		m, err := process.TissueMask(b.slide.Pyramid, *b.desc.TissueThreshold)
		if err != nil {
			return nil, fmt.Errorf("%w: tissue mask: %w", ErrIO, err)
		}
		return m, nil
	}
	if b.desc.TissueDisabled {
		return nil, nil
	}

	if r, ok := b.slide.Renderer(TissueProcess); ok && r.Input() != nil {
		w, _ := b.slide.Pyramid.LevelSize(0)
		m, err := process.MaskFromLabels(r.Input(), w)
		if err != nil {
			b.logger.Warn("Tissue output unusable as mask, tiling unfiltered", "error", err)
			return nil, nil
		}
		return m, nil
	}
	return nil, nil
}

func (a *Assembler) tiler(b *build) (*process.Tiler, error) {
	level, err := a.patchLevel(b)
	if err != nil {
		return nil, err
	}
	m, err := a.mask(b)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("Tiling configured",
		"level", level,
		"patch", fmt.Sprintf("%dx%d", b.desc.InputSize.Width, b.desc.InputSize.Height),
		"overlap", b.desc.PatchOverlap,
		"masked", m != nil,
	)
	return &process.Tiler{
		Pyramid:       b.slide.Pyramid,
		Level:         level,
		Width:         b.desc.InputSize.Width,
		Height:        b.desc.InputSize.Height,
		Overlap:       b.desc.PatchOverlap,
		Mask:          m,
		MaskThreshold: b.desc.MaskThreshold,
	}, nil
}

// infer runs one image through the network using the configured layout and scale.
func infer(ctx context.Context, net network.Network, cfg network.Config, img *data.Image) ([]*data.Tensor, error) {
	if img.Width != cfg.InputSize.Width || img.Height != cfg.InputSize.Height {
		img = process.Resize(img, cfg.InputSize.Width, cfg.InputSize.Height, false)
	}
	out, err := net.Infer(ctx, process.ToTensor(img, cfg.Channels, cfg.Layout, cfg.Scale))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: network returned no outputs", process.ErrOutputShape)
	}
	return out, nil
}

func levelSpacing(p wsi.Pyramid, level int) data.Spacing {
	ds := p.LevelDownsample(level)
	base := p.Spacing()
	return data.Spacing{base[0] * ds, base[1] * ds}
}

func (a *Assembler) classificationHigh(b *build) (*plan, error) {
	t, err := a.tiler(b)
	if err != nil {
		return nil, err
	}

	r := render.NewHeatmap()
	r.MaxOpacity = heatmapMaxOpacity
	r.Interpolation = b.desc.Interpolation
	r.Colors = colors(b.desc)

	cols, rows := t.Grid()
	sx, sy := t.Step()
	ls := levelSpacing(b.slide.Pyramid, t.Level)
	cfg := b.network

	return &plan{
		output:   OutputHeatmap,
		renderer: r,
		execute: func(ctx context.Context, net network.Network) (data.Object, error) {
			s := process.NewHeatmapStitcher(cols, rows, b.desc.Classes, data.Spacing{ls[0] * float64(sx), ls[1] * float64(sy)})
			err := t.Each(ctx, func(p process.Patch) error {
				out, err := infer(ctx, net, cfg, p.Image)
				if err != nil {
					return err
				}
				return s.Add(p, out[0])
			})
			if err != nil {
				return nil, err
			}
			return s.Result(), nil
		},
	}, nil
}

func (a *Assembler) segmentationHigh(b *build) (*plan, error) {
	t, err := a.tiler(b)
	if err != nil {
		return nil, err
	}

	r := render.NewSegmentation()
	r.Opacity = segmentationOpacity
	r.BorderOpacity = segmentationBorder
	r.Colors = colors(b.desc)

	w, h := b.slide.Pyramid.LevelSize(t.Level)
	ls := levelSpacing(b.slide.Pyramid, t.Level)
	cfg := b.network

	return &plan{
		output:   OutputSegmentation,
		renderer: r,
		execute: func(ctx context.Context, net network.Network) (data.Object, error) {
			s := process.NewSegmentationStitcher(w, h, b.desc.Classes, ls)
			err := t.Each(ctx, func(p process.Patch) error {
				out, err := infer(ctx, net, cfg, p.Image)
				if err != nil {
					return err
				}
				return s.Add(p, out[0])
			})
			if err != nil {
				return nil, err
			}
			return s.Result(), nil
		},
	}, nil
}

func (a *Assembler) segmentationLow(b *build) (*plan, error) {
	level, err := LowResLevel(b.slide.Pyramid, b.desc.InputSize)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("Low resolution level selected", "level", level)

	r := render.NewSegmentation()
	r.Opacity = lowResSegmentationOpacity
	r.BorderOpacity = segmentationBorder
	r.Colors = colors(b.desc)

	p := b.slide.Pyramid
	fullW, fullH := p.LevelSize(0)
	cfg := b.network

	return &plan{
		output:   OutputSegmentation,
		renderer: r,
		execute: func(ctx context.Context, net network.Network) (data.Object, error) {
			img, err := p.LevelImage(level)
			if err != nil {
				return nil, err
			}

			out, err := infer(ctx, net, cfg, img)
			if err != nil {
				return nil, err
			}
			hwc, err := out[0].Spatial(b.desc.Classes)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", process.ErrOutputShape, err)
			}

			labels := process.Resize(process.Labels(hwc), img.Width, img.Height, true)
			base := p.Spacing()
			labels.Spacing = data.Spacing{
				base[0] * float64(fullW) / float64(img.Width),
				base[1] * float64(fullH) / float64(img.Height),
			}
			return labels, nil
		},
	}, nil
}

func (a *Assembler) detectionHigh(b *build) (*plan, error) {
	if b.selection.Backend.Family() != backend.OpenVINO {
		return nil, fmt.Errorf("%w: object detection runs on %s only, resolved %s",
			ErrFormatMismatch, backend.OpenVINO, b.selection.Backend)
	}

	anchors, err := a.catalog.Anchors(b.name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	t, err := a.tiler(b)
	if err != nil {
		return nil, err
	}

	r := render.NewBoundingBox()
	r.Colors = colors(b.desc)

	cfg := b.network
	yolo := process.YOLO{
		InputSize: b.desc.InputSize,
		Classes:   b.desc.Classes,
		Anchors:   anchors,
		Threshold: float32(b.desc.PredThreshold),
	}
	nms := float32(b.desc.NMSThreshold)
	ds := b.slide.Pyramid.LevelDownsample(t.Level)

	return &plan{
		output:   OutputBoxes,
		renderer: r,
		execute: func(ctx context.Context, net network.Network) (data.Object, error) {
			var acc process.BoxAccumulator
			err := t.Each(ctx, func(p process.Patch) error {
				out, err := infer(ctx, net, cfg, p.Image)
				if err != nil {
					return err
				}
				boxes, err := yolo.Decode(out)
				if err != nil {
					return err
				}
				sx := float32(p.Image.Width) / float32(cfg.InputSize.Width)
				sy := float32(p.Image.Height) / float32(cfg.InputSize.Height)
				acc.Add(p, process.NMS(boxes, nms), sx, sy, ds)
				return nil
			})
			if err != nil {
				return nil, err
			}
			return acc.Result(), nil
		},
	}, nil
}

func (a *Assembler) tissuePlan(slide *wsi.Slide) *plan {
	r := render.NewSegmentation()
	r.Opacity = lowResSegmentationOpacity
	r.BorderOpacity = segmentationBorder
	r.Colors = render.Colors{1: {R: 0, G: 200, B: 0, A: 255}}

	threshold := a.tissueThreshold
	return &plan{
		output:   OutputTissue,
		renderer: r,
		execute: func(ctx context.Context, _ network.Network) (data.Object, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			m, err := process.TissueMask(slide.Pyramid, threshold)
			if err != nil {
				return nil, err
			}
			base := slide.Pyramid.Spacing()
			m.Image.Spacing = data.Spacing{base[0] * m.Downsample, base[1] * m.Downsample}
			return m.Image, nil
		},
	}
}
