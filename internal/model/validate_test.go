package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/pathflow/internal/backend"
)

func validMetadata() map[string]string {
	return map[string]string{
		KeyName:        "Tumor classifier",
		KeyProblem:     "classification",
		KeyResolution:  "high",
		KeyInputWidth:  "256",
		KeyInputHeight: "256",
		KeyChannels:    "3",
		KeyClasses:     "2",
		KeyClassColors: "0,255,0;255,0,0",
		KeyScaleFactor: "1/255",
	}
}

func TestValidate_Defaults(t *testing.T) {
	d, err := Validate("tumor", validMetadata())
	require.NoError(t, err)

	assert.Equal(t, "tumor", d.Name)
	assert.Equal(t, "Tumor classifier", d.DisplayName)
	assert.Equal(t, ProblemClassification, d.Problem)
	assert.Equal(t, ResolutionHigh, d.Resolution)
	assert.Equal(t, Size{Width: 256, Height: 256}, d.InputSize)
	assert.Equal(t, []Color{{0, 255, 0}, {255, 0, 0}}, d.ClassColors)
	assert.InDelta(t, 1.0/255, d.Scale.Value(), 1e-6)
	assert.Equal(t, DefaultMaskThreshold, d.MaskThreshold)
	assert.Equal(t, DefaultPatchOverlap, d.PatchOverlap)
	assert.Equal(t, DefaultPredThreshold, d.PredThreshold)
	assert.Equal(t, DefaultNMSThreshold, d.NMSThreshold)
	assert.Equal(t, LayoutNCHW, d.InputLayout)
	assert.True(t, d.Interpolation)
	assert.Nil(t, d.TissueThreshold)
	assert.False(t, d.TissueDisabled)
	assert.Zero(t, d.Magnification)
	assert.True(t, d.PinnedBackend == "")
}

func TestValidate_OptionalFields(t *testing.T) {
	m := validMetadata()
	m[KeyMagnification] = "10"
	m[KeyTissueThreshold] = "85"
	m[KeyMaskThreshold] = "0.3"
	m[KeyPatchOverlap] = "0.25"
	m[KeyBackend] = "OpenVINO"
	m[KeyCPU] = "1"
	m[KeyInputLayout] = "NHWC"

	d, err := Validate("tumor", m)
	require.NoError(t, err)

	assert.Equal(t, 10.0, d.Magnification)
	require.NotNil(t, d.TissueThreshold)
	assert.Equal(t, 85, *d.TissueThreshold)
	assert.Equal(t, 0.3, d.MaskThreshold)
	assert.Equal(t, 0.25, d.PatchOverlap)
	assert.Equal(t, backend.OpenVINO, d.PinnedBackend)
	assert.True(t, d.CPUOnly)
	assert.Equal(t, LayoutNHWC, d.InputLayout)
	assert.Equal(t, backend.Preferences{Pinned: backend.OpenVINO, CPUOnly: true}, d.Preferences())
}

func TestValidate_NoneSentinels(t *testing.T) {
	m := validMetadata()
	m[KeyTissueThreshold] = "none"
	m[KeyBackend] = "none"

	d, err := Validate("tumor", m)
	require.NoError(t, err)
	assert.True(t, d.TissueDisabled)
	assert.Nil(t, d.TissueThreshold)
	assert.Empty(t, d.PinnedBackend)
}

func TestValidate_AggregatesProblems(t *testing.T) {
	m := validMetadata()
	delete(m, KeyProblem)
	m[KeyInputWidth] = "abc"
	m[KeyScaleFactor] = "1/0"
	m[KeyMaskThreshold] = "1.5"
	m[KeyBackend] = "CoreML"

	_, err := Validate("broken", m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMetadata))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "broken", verr.Model)
	assert.Len(t, verr.Problems, 5)

	msg := err.Error()
	for _, key := range []string{KeyProblem, KeyInputWidth, KeyScaleFactor, KeyMaskThreshold, KeyBackend} {
		assert.True(t, strings.Contains(msg, key), "missing %s in %q", key, msg)
	}
}

func TestValidate_ClassColorsCount(t *testing.T) {
	m := validMetadata()
	m[KeyClasses] = "3"

	_, err := Validate("tumor", m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 colors for 3 classes")

	m[KeyProblem] = "object_detection"
	_, err = Validate("tumor", m)
	assert.NoError(t, err)
}

func TestParseColors(t *testing.T) {
	colors, err := ParseColors(" 1,2,3 ; 4,5,6;")
	require.NoError(t, err)
	assert.Equal(t, []Color{{1, 2, 3}, {4, 5, 6}}, colors)

	_, err = ParseColors("1,2")
	assert.Error(t, err)

	_, err = ParseColors("1,2,256")
	assert.Error(t, err)
}

func TestParseScaleFactor(t *testing.T) {
	sf, err := ParseScaleFactor("1/255")
	require.NoError(t, err)
	assert.Equal(t, ScaleFactor{Numerator: 1, Denominator: 255}, sf)

	for _, bad := range []string{"0.5", "a/2", "1/0"} {
		_, err := ParseScaleFactor(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, float32(1), ScaleFactor{}.Value())
}

func TestDescriptor_Color(t *testing.T) {
	d, err := Validate("tumor", validMetadata())
	require.NoError(t, err)

	assert.Equal(t, Color{255, 0, 0}, d.Color(1))
	assert.Equal(t, fallbackPalette[5%len(fallbackPalette)], d.Color(5))
}
