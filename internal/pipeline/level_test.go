package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/model"
)

// fakePyramid reports level geometry without holding pixels.
type fakePyramid struct {
	sizes [][2]int
	mag   float64
}

func (*fakePyramid) Kind() data.Kind              { return data.KindPyramid }
func (p *fakePyramid) LevelCount() int            { return len(p.sizes) }
func (p *fakePyramid) Magnification() float64     { return p.mag }
func (p *fakePyramid) Spacing() data.Spacing      { return data.UnitSpacing }
func (p *fakePyramid) LevelSize(l int) (int, int) { return p.sizes[l][0], p.sizes[l][1] }

func (p *fakePyramid) LevelDownsample(l int) float64 {
	return float64(p.sizes[0][0]) / float64(p.sizes[l][0])
}

func (p *fakePyramid) Region(_, _, _, w, h int) (*data.Image, error) {
	return data.NewImage(w, h, 3), nil
}

func (p *fakePyramid) LevelImage(l int) (*data.Image, error) {
	return data.NewImage(p.sizes[l][0], p.sizes[l][1], 3), nil
}

func halving(side, levels int) [][2]int {
	out := make([][2]int, levels)
	for i := range levels {
		out[i] = [2]int{side >> i, side >> i}
	}
	return out
}

func TestLowResLevel(t *testing.T) {
	p := &fakePyramid{sizes: halving(4096, 5), mag: 40}

	tests := []struct {
		input int
		want  int
	}{
		{input: 256, want: 3},
		{input: 1024, want: 1},
		{input: 2048, want: 0},
		{input: 100, want: 4},
	}

	for _, tt := range tests {
		level, err := LowResLevel(p, model.Size{Width: tt.input, Height: tt.input})
		require.NoError(t, err)
		assert.Equal(t, tt.want, level, "input %d", tt.input)

		w, h := p.LevelSize(level)
		if level != p.LevelCount()-1 {
			assert.GreaterOrEqual(t, w, 2*tt.input)
			assert.GreaterOrEqual(t, h, 2*tt.input)
		}
	}
}

func TestLowResLevel_NonSquare(t *testing.T) {
	p := &fakePyramid{sizes: [][2]int{{4000, 1000}, {2000, 500}, {1000, 250}}, mag: 40}

	level, err := LowResLevel(p, model.Size{Width: 200, Height: 200})
	require.NoError(t, err)
	assert.Equal(t, 1, level)
}

func TestLowResLevel_TooSmall(t *testing.T) {
	p := &fakePyramid{sizes: halving(512, 2), mag: 40}

	_, err := LowResLevel(p, model.Size{Width: 512, Height: 512})
	assert.ErrorIs(t, err, ErrArithmeticDegenerate)
}

func TestPatchLevel(t *testing.T) {
	p := &fakePyramid{sizes: halving(4096, 5), mag: 40}

	tests := []struct {
		mag  float64
		want int
	}{
		{mag: 40, want: 0},
		{mag: 20, want: 1},
		{mag: 10, want: 2},
		{mag: 5, want: 3},
		{mag: 12, want: 2},
	}
	for _, tt := range tests {
		level, err := PatchLevel(p, tt.mag)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level, "magnification %g", tt.mag)

		again, err := PatchLevel(p, tt.mag)
		require.NoError(t, err)
		assert.Equal(t, level, again)
	}

	quarter := &fakePyramid{sizes: [][2]int{{4096, 4096}, {1024, 1024}, {256, 256}}, mag: 40}
	level, err := PatchLevel(quarter, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, level)
}

func TestPatchLevel_Degenerate(t *testing.T) {
	p := &fakePyramid{sizes: halving(4096, 5), mag: 40}

	for _, mag := range []float64{80, 1, 0} {
		_, err := PatchLevel(p, mag)
		assert.ErrorIs(t, err, ErrArithmeticDegenerate, "magnification %g", mag)
	}

	single := &fakePyramid{sizes: halving(4096, 1), mag: 40}
	level, err := PatchLevel(single, 40)
	require.NoError(t, err)
	assert.Zero(t, level)

	_, err = PatchLevel(single, 20)
	assert.ErrorIs(t, err, ErrArithmeticDegenerate)

	unknown := &fakePyramid{sizes: halving(4096, 5)}
	_, err = PatchLevel(unknown, 20)
	assert.ErrorIs(t, err, ErrArithmeticDegenerate)
}
