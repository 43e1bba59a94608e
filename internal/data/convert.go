package data

import (
	"image"
	"image/color"
	"image/draw"
)

// FromImage copies img into an Image with the given channel count (1, 3 or 4).
func FromImage(img image.Image, channels int) *Image {
	b := img.Bounds()
	out := NewImage(b.Dx(), b.Dy(), channels)

	if src, ok := img.(*image.Gray); ok && channels == 1 {
		for y := range out.Height {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Width:(y+1)*out.Width], src.Pix[off:off+out.Width])
		}
		return out
	}

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	for y := range out.Height {
		for x := range out.Width {
			i := y*rgba.Stride + x*4
			r, g, bl, a := rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2], rgba.Pix[i+3]
			switch channels {
			case 1:
				out.Set(x, y, 0, uint8((299*uint32(r)+587*uint32(g)+114*uint32(bl))/1000))
			default:
				out.Set(x, y, 0, r)
				out.Set(x, y, 1, g)
				out.Set(x, y, 2, bl)
				if channels == 4 {
					out.Set(x, y, 3, a)
				}
			}
		}
	}
	return out
}

// ToImage wraps the pixels as a standard library image.
// Single channel images become Gray, everything else RGBA.
func (im *Image) ToImage() image.Image {
	r := image.Rect(0, 0, im.Width, im.Height)
	if im.Channels == 1 {
		g := image.NewGray(r)
		copy(g.Pix, im.Pix)
		return g
	}

	out := image.NewRGBA(r)
	for y := range im.Height {
		for x := range im.Width {
			c := color.RGBA{A: 255}
			c.R = im.At(x, y, 0)
			c.G = im.At(x, y, min(1, im.Channels-1))
			c.B = im.At(x, y, min(2, im.Channels-1))
			if im.Channels == 4 {
				c.A = im.At(x, y, 3)
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out
}
