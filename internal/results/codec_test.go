package results

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/pathflow/internal/data"
)

func labelImage(w, h int) *data.Image {
	im := data.NewImage(w, h, 1)
	for y := range h {
		for x := range w {
			im.Set(x, y, 0, uint8((x/8+y/8)%3))
		}
	}
	return im
}

func TestMetaImage_RoundTrip(t *testing.T) {
	im := labelImage(20, 12)
	im.Spacing = data.Spacing{0.25, 0.5}

	var buf bytes.Buffer
	require.NoError(t, encodeMetaImage(&buf, im))
	assert.Contains(t, buf.String(), "DimSize = 20 12\n")

	got, err := decodeMetaImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, im.Width, got.Width)
	assert.Equal(t, im.Height, got.Height)
	assert.Equal(t, 1, got.Channels)
	assert.Equal(t, im.Spacing, got.Spacing)
	assert.Equal(t, im.Pix, got.Pix)
}

func TestMetaImage_RejectsExternalData(t *testing.T) {
	header := "ObjectType = Image\nDimSize = 2 2\nElementType = MET_UCHAR\nElementDataFile = labels.raw\n"
	_, err := decodeMetaImage(bytes.NewBufferString(header))
	assert.ErrorIs(t, err, ErrCodec)
}

func TestMetaImage_TruncatedPixels(t *testing.T) {
	header := "DimSize = 4 4\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n"
	_, err := decodeMetaImage(bytes.NewBufferString(header + "abc"))
	assert.ErrorIs(t, err, ErrCodec)
}

func TestTensor_RoundTrip(t *testing.T) {
	tensor, err := data.TensorFrom([]float32{0.1, 0.9, 0.25, 0.75, 1, 0}, 1, 3, 2)
	require.NoError(t, err)
	tensor.Spacing = data.Spacing{512, 512}

	var buf bytes.Buffer
	require.NoError(t, encodeTensor(&buf, tensor))

	got, err := decodeTensor(&buf)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape, got.Shape)
	assert.Equal(t, tensor.Spacing, got.Spacing)
	assert.InDeltaSlice(t, tensor.Data, got.Data, 1e-6)
}

func TestTensor_Garbage(t *testing.T) {
	_, err := decodeTensor(bytes.NewBufferString("not a protobuf"))
	assert.ErrorIs(t, err, ErrCodec)
}

func TestPyramid_RoundTrip(t *testing.T) {
	p := data.BuildPyramid(labelImage(160, 140), pyramidMinSide)
	require.Len(t, p.Levels, 2)

	var buf bytes.Buffer
	require.NoError(t, encodePyramid(&buf, p))

	got, err := decodePyramid(&buf)
	require.NoError(t, err)
	require.Len(t, got.Levels, 2)
	assert.Equal(t, 1, got.Levels[0].Channels)
	assert.Equal(t, p.Levels[0].Pix, got.Levels[0].Pix)
	assert.Equal(t, p.Levels[1].Pix, got.Levels[1].Pix)
}

func TestExtension(t *testing.T) {
	ext, ok := extension(data.KindTensor)
	assert.True(t, ok)
	assert.Equal(t, ExtTensor, ext)

	_, ok = extension(data.KindBoxSet)
	assert.False(t, ok)
}
