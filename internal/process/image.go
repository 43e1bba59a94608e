// Package process holds the pipeline stages that run around the network:
// tiling, tissue masking, stitching, resizing and detection decoding.
package process

import (
	"github.com/nfnt/resize"

	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/model"
)

// Resize scales img to width x height. Label images must use nearest so no
// new label values are introduced.
func Resize(img *data.Image, width, height int, nearest bool) *data.Image {
	if img.Width == width && img.Height == height {
		out := *img
		out.Pix = append([]uint8(nil), img.Pix...)
		return &out
	}

	interp := resize.Bilinear
	if nearest {
		interp = resize.NearestNeighbor
	}

	scaled := resize.Resize(uint(width), uint(height), img.ToImage(), interp)
	out := data.FromImage(scaled, img.Channels)
	out.Spacing = data.Spacing{
		img.Spacing[0] * float64(img.Width) / float64(width),
		img.Spacing[1] * float64(img.Height) / float64(height),
	}
	return out
}

// ToTensor converts img into a batch-of-one network input in the given layout,
// multiplying each intensity by scale. Missing channels repeat the last source channel.
func ToTensor(img *data.Image, channels int, layout model.Layout, scale float32) *data.Tensor {
	var t *data.Tensor
	if layout == model.LayoutNHWC {
		t = data.NewTensor(1, img.Height, img.Width, channels)
	} else {
		t = data.NewTensor(1, channels, img.Height, img.Width)
	}
	t.Spacing = img.Spacing

	plane := img.Width * img.Height
	for y := range img.Height {
		for x := range img.Width {
			for c := range channels {
				v := float32(img.At(x, y, min(c, img.Channels-1))) * scale
				p := y*img.Width + x
				if layout == model.LayoutNHWC {
					t.Data[p*channels+c] = v
				} else {
					t.Data[c*plane+p] = v
				}
			}
		}
	}
	return t
}

// Labels converts a [H,W,C] probability tensor into a single channel label image.
func Labels(hwc *data.Tensor) *data.Image {
	h, w, c := hwc.Shape[0], hwc.Shape[1], hwc.Shape[2]
	out := data.NewImage(w, h, 1)
	out.Spacing = hwc.Spacing
	for p := range w * h {
		label, _ := data.ArgMax(hwc.Data[p*c : (p+1)*c])
		out.Pix[p] = uint8(label)
	}
	return out
}
