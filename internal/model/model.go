package model

import (
	"fmt"

	"github.com/ekisa-team/pathflow/internal/backend"
)

// Problem is the kind of task a model solves.
type Problem string

const (
	ProblemClassification  Problem = "classification"
	ProblemSegmentation    Problem = "segmentation"
	ProblemObjectDetection Problem = "object_detection"
)

// Resolution is the regime the model operates in.
type Resolution string

const (
	// ResolutionLow models see one resized image of a whole pyramid level.
	ResolutionLow Resolution = "low"
	// ResolutionHigh models see fixed size patches drawn from one pyramid level.
	ResolutionHigh Resolution = "high"
)

// Layout is the memory order of the network input tensor.
type Layout string

const (
	LayoutNCHW Layout = "nchw"
	LayoutNHWC Layout = "nhwc"
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Color is an 8-bit RGB triple.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (c Color) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// ScaleFactor is the numerator/denominator fraction applied to input intensities.
type ScaleFactor struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Value returns the fraction, or 1 when unset.
func (s ScaleFactor) Value() float32 {
	if s.Denominator == 0 {
		return 1
	}
	return float32(s.Numerator) / float32(s.Denominator)
}

// Default values for optional metadata fields.
const (
	DefaultMaskThreshold = 0.5
	DefaultPatchOverlap  = 0.0
	DefaultPredThreshold = 0.1
	DefaultNMSThreshold  = 0.5
)

// Descriptor is the validated, typed configuration of one model.
// It is immutable once built; overrides produce a new Descriptor.
type Descriptor struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Problem     Problem     `json:"problem"`
	Resolution  Resolution  `json:"resolution"`
	InputSize   Size        `json:"input_size"`
	Channels    int         `json:"channels"`
	Classes     int         `json:"classes"`
	ClassColors []Color     `json:"class_colors,omitempty"`
	Scale       ScaleFactor `json:"scale_factor"`

	// Magnification is the objective power the model was trained at; 0 when unspecified.
	Magnification float64 `json:"magnification,omitempty"`

	// TissueThreshold enables the tissue pre-filter when set.
	TissueThreshold *int `json:"tissue_threshold,omitempty"`
	// TissueDisabled records an explicit "none" in the metadata.
	TissueDisabled bool    `json:"tissue_disabled,omitempty"`
	MaskThreshold  float64 `json:"mask_threshold"`
	PatchOverlap   float64 `json:"patch_overlap"`

	PinnedBackend backend.ID `json:"pinned_backend,omitempty"`
	CPUOnly       bool       `json:"cpu_only,omitempty"`

	InputNode   string `json:"input_node,omitempty"`
	OutputNode  string `json:"output_node,omitempty"`
	InputLayout Layout `json:"input_layout"`

	Interpolation bool    `json:"interpolation"`
	PredThreshold float64 `json:"pred_threshold"`
	NMSThreshold  float64 `json:"nms_threshold"`

	metadata map[string]string
}

// Metadata returns a copy of the raw metadata the descriptor was built from.
func (d *Descriptor) Metadata() map[string]string {
	out := make(map[string]string, len(d.metadata))
	for k, v := range d.metadata {
		out[k] = v
	}
	return out
}

// Preferences returns the backend preferences recorded in the metadata.
func (d *Descriptor) Preferences() backend.Preferences {
	return backend.Preferences{
		Pinned:  d.PinnedBackend,
		CPUOnly: d.CPUOnly,
	}
}

// Color returns the configured color of class i, or a fallback palette color.
func (d *Descriptor) Color(i int) Color {
	if i >= 0 && i < len(d.ClassColors) {
		return d.ClassColors[i]
	}
	return fallbackPalette[i%len(fallbackPalette)]
}

var fallbackPalette = []Color{
	{255, 0, 0}, {0, 255, 0}, {0, 0, 255}, {255, 255, 0}, {255, 0, 255}, {0, 255, 255},
}
