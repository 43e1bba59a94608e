package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPyramid(t *testing.T) {
	base := NewImage(16, 8, 1)
	for i := range base.Pix {
		base.Pix[i] = uint8(i)
	}

	p := BuildPyramid(base, 2)
	require.Len(t, p.Levels, 3)
	assert.Equal(t, 8, p.Levels[1].Width)
	assert.Equal(t, 4, p.Levels[1].Height)
	assert.Equal(t, 4, p.Levels[2].Width)
	assert.Equal(t, 2, p.Levels[2].Height)
	assert.Equal(t, Spacing{4, 4}, p.Levels[2].Spacing)
	assert.Equal(t, base.At(2, 2, 0), p.Levels[1].At(1, 1, 0))
}

func TestTensorFrom(t *testing.T) {
	_, err := TensorFrom(make([]float32, 5), 2, 3)
	assert.ErrorIs(t, err, ErrShape)

	tt, err := TensorFrom(make([]float32, 6), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, tt.Len())
	assert.Equal(t, KindTensor, tt.Kind())
}

func TestArgMax(t *testing.T) {
	i, v := ArgMax([]float32{-3, -1, -2})
	assert.Equal(t, 1, i)
	assert.Equal(t, float32(-1), v)
}

func TestTensor_Spatial(t *testing.T) {
	// 2 channels, 1x3 image, NCHW: channel 0 = [1,2,3], channel 1 = [4,5,6]
	nchw, err := TensorFrom([]float32{1, 2, 3, 4, 5, 6}, 1, 2, 1, 3)
	require.NoError(t, err)

	hwc, err := nchw.Spatial(2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2}, hwc.Shape)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, hwc.Data)

	nhwc, err := TensorFrom([]float32{1, 3, 2, 4}, 1, 1, 2, 2)
	require.NoError(t, err)
	same, err := nhwc.Spatial(2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3, 2, 4}, same.Data)

	_, err = nhwc.Spatial(5)
	assert.ErrorIs(t, err, ErrShape)
}

func TestBox_IoU(t *testing.T) {
	a := Box{X: 0, Y: 0, Width: 10, Height: 10}
	b := Box{X: 5, Y: 0, Width: 10, Height: 10}
	assert.InDelta(t, 50.0/150.0, a.IoU(b), 1e-6)
	assert.Equal(t, float32(0), a.IoU(Box{X: 20, Y: 20, Width: 1, Height: 1}))
	assert.Equal(t, float32(1), a.IoU(a))
}

func TestImage_ToImageRoundTrip(t *testing.T) {
	rgb := NewImage(3, 2, 3)
	for i := range rgb.Pix {
		rgb.Pix[i] = uint8(i * 10)
	}
	back := FromImage(rgb.ToImage(), 3)
	assert.Equal(t, rgb.Pix, back.Pix)

	gray := NewImage(4, 3, 1)
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i)
	}
	backGray := FromImage(gray.ToImage(), 1)
	assert.Equal(t, gray.Pix, backGray.Pix)
}
