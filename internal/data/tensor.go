package data

import (
	"errors"
	"fmt"
)

// ErrShape is returned when tensor dimensions do not match the data.
var ErrShape = errors.New("tensor shape mismatch")

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape   []int
	Data    []float32
	Spacing Spacing
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{
		Shape:   append([]int(nil), shape...),
		Data:    make([]float32, Elements(shape)),
		Spacing: UnitSpacing,
	}
}

// TensorFrom wraps data, checking it fits shape.
func TensorFrom(data []float32, shape ...int) (*Tensor, error) {
	if n := Elements(shape); n != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data, Spacing: UnitSpacing}, nil
}

func (*Tensor) Kind() Kind { return KindTensor }

// Elements returns the product of dims.
func Elements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of values.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// ArgMax returns the index and value of the largest entry of data.
func ArgMax(data []float32) (int, float32) {
	best, bestV := 0, float32(0)
	for i, v := range data {
		if i == 0 || v > bestV {
			best, bestV = i, v
		}
	}
	return best, bestV
}

// ChannelsLast returns a copy of a [1,C,H,W] or [C,H,W] tensor as [H,W,C].
func (t *Tensor) ChannelsLast() (*Tensor, error) {
	shape := t.Shape
	if len(shape) == 4 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: expected CHW, got %v", ErrShape, t.Shape)
	}

	c, h, w := shape[0], shape[1], shape[2]
	out := NewTensor(h, w, c)
	out.Spacing = t.Spacing
	for ci := range c {
		for y := range h {
			for x := range w {
				out.Data[(y*w+x)*c+ci] = t.Data[(ci*h+y)*w+x]
			}
		}
	}
	return out, nil
}

// Spatial interprets a segmentation output as [H,W,C], accepting NHWC or NCHW
// with a leading batch of one. channels disambiguates the two layouts.
func (t *Tensor) Spatial(channels int) (*Tensor, error) {
	shape := t.Shape
	if len(shape) == 4 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: expected 3 spatial dims, got %v", ErrShape, t.Shape)
	}

	switch {
	case shape[2] == channels:
		return &Tensor{Shape: shape, Data: t.Data, Spacing: t.Spacing}, nil
	case shape[0] == channels:
		return (&Tensor{Shape: shape, Data: t.Data, Spacing: t.Spacing}).ChannelsLast()
	}
	return nil, fmt.Errorf("%w: no axis of %v has %d channels", ErrShape, t.Shape, channels)
}
