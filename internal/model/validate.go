package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/mapsafe"
)

// Metadata keys understood by the validator.
const (
	KeyModelName       = "model_name"
	KeyName            = "name"
	KeyProblem         = "problem"
	KeyResolution      = "resolution"
	KeyInputWidth      = "input_img_size_x"
	KeyInputHeight     = "input_img_size_y"
	KeyChannels        = "nb_channels"
	KeyClasses         = "nb_classes"
	KeyClassColors     = "class_colors"
	KeyScaleFactor     = "scale_factor"
	KeyMagnification   = "magnification_level"
	KeyTissueThreshold = "tissue_threshold"
	KeyMaskThreshold   = "mask_threshold"
	KeyPatchOverlap    = "patch_overlap"
	KeyBackend         = "IE"
	KeyCPU             = "cpu"
	KeyInputNode       = "input_node"
	KeyOutputNode      = "output_node"
	KeyInputLayout     = "input_layout"
	KeyInterpolation   = "interpolation"
	KeyPredThreshold   = "pred_threshold"
	KeyNMSThreshold    = "nms_threshold"
)

const none = "none"

// ValidationError aggregates every problem found in one model's metadata.
type ValidationError struct {
	Model    string
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("model %s: %s: %s", e.Model, ErrInvalidMetadata, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual problems and ErrInvalidMetadata to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrInvalidMetadata}, e.Problems...)
}

// validator collects field errors while reading a metadata map.
type validator struct {
	m    map[string]string
	errs []error
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) required(key string) string {
	s, ok, _ := mapsafe.Lookup[string](v.m, key)
	if !ok {
		v.fail("%s: required", key)
	}
	return s
}

func (v *validator) positiveInt(key string) int {
	n, ok, err := mapsafe.Lookup[int](v.m, key)
	switch {
	case err != nil:
		v.errs = append(v.errs, err)
	case !ok:
		v.fail("%s: required", key)
	case n <= 0:
		v.fail("%s: must be positive, got %d", key, n)
	}
	return n
}

func (v *validator) float(key string, def, lo, hi float64) float64 {
	f, ok, err := mapsafe.Lookup[float64](v.m, key)
	switch {
	case err != nil:
		v.errs = append(v.errs, err)
		return def
	case !ok:
		return def
	case f < lo || f > hi:
		v.fail("%s: %g outside [%g, %g]", key, f, lo, hi)
		return def
	}
	return f
}

func (v *validator) bool(key string, def bool) bool {
	b, ok, err := mapsafe.Lookup[bool](v.m, key)
	if err != nil {
		v.errs = append(v.errs, err)
		return def
	}
	if !ok {
		return def
	}
	return b
}

// Validate turns a raw metadata map into a Descriptor.
// Every field is checked before returning, so the error lists all problems at once.
func Validate(name string, metadata map[string]string) (*Descriptor, error) {
	v := &validator{m: metadata}

	d := &Descriptor{
		Name:          name,
		DisplayName:   mapsafe.Get(metadata, KeyName, name),
		MaskThreshold: DefaultMaskThreshold,
		PatchOverlap:  DefaultPatchOverlap,
		InputLayout:   LayoutNCHW,
		PredThreshold: DefaultPredThreshold,
		NMSThreshold:  DefaultNMSThreshold,
		metadata:      make(map[string]string, len(metadata)),
	}
	for k, val := range metadata {
		d.metadata[k] = val
	}

	switch p := Problem(v.required(KeyProblem)); p {
	case ProblemClassification, ProblemSegmentation, ProblemObjectDetection:
		d.Problem = p
	case "":
	default:
		v.fail("%s: unknown problem %q", KeyProblem, p)
	}

	switch r := Resolution(v.required(KeyResolution)); r {
	case ResolutionLow, ResolutionHigh:
		d.Resolution = r
	case "":
	default:
		v.fail("%s: unknown resolution %q", KeyResolution, r)
	}

	d.InputSize = Size{Width: v.positiveInt(KeyInputWidth), Height: v.positiveInt(KeyInputHeight)}
	d.Channels = v.positiveInt(KeyChannels)
	d.Classes = v.positiveInt(KeyClasses)

	if raw, ok := metadata[KeyClassColors]; ok && strings.TrimSpace(raw) != "" {
		colors, err := ParseColors(raw)
		if err != nil {
			v.fail("%s: %v", KeyClassColors, err)
		}
		d.ClassColors = colors
	}
	if d.Problem == ProblemClassification || d.Problem == ProblemSegmentation {
		if d.Classes > 0 && len(d.ClassColors) < d.Classes {
			v.fail("%s: %d colors for %d classes", KeyClassColors, len(d.ClassColors), d.Classes)
		}
	}

	if raw, ok := metadata[KeyScaleFactor]; ok && strings.TrimSpace(raw) != "" {
		sf, err := ParseScaleFactor(raw)
		if err != nil {
			v.fail("%s: %v", KeyScaleFactor, err)
		}
		d.Scale = sf
	}

	if mag := v.float(KeyMagnification, 0, 0, 1000); mag > 0 {
		d.Magnification = mag
	}

	if raw := strings.TrimSpace(metadata[KeyTissueThreshold]); strings.EqualFold(raw, none) {
		d.TissueDisabled = true
	} else if raw != "" {
		th, err := strconv.Atoi(raw)
		if err != nil || th < 0 {
			v.fail("%s: %q is not a non-negative integer", KeyTissueThreshold, raw)
		} else {
			d.TissueThreshold = &th
		}
	}

	d.MaskThreshold = v.float(KeyMaskThreshold, DefaultMaskThreshold, 0, 1)
	d.PatchOverlap = v.float(KeyPatchOverlap, DefaultPatchOverlap, 0, 0.99)
	d.PredThreshold = v.float(KeyPredThreshold, DefaultPredThreshold, 0, 1)
	d.NMSThreshold = v.float(KeyNMSThreshold, DefaultNMSThreshold, 0, 1)

	if raw := strings.TrimSpace(metadata[KeyBackend]); raw != "" && !strings.EqualFold(raw, none) {
		id := backend.ID(raw)
		if !id.Known() {
			v.fail("%s: unknown backend %q", KeyBackend, raw)
		}
		d.PinnedBackend = id
	}

	d.CPUOnly = v.bool(KeyCPU, false)
	d.Interpolation = v.bool(KeyInterpolation, true)
	d.InputNode = mapsafe.Get(metadata, KeyInputNode, "")
	d.OutputNode = mapsafe.Get(metadata, KeyOutputNode, "")

	switch l := Layout(strings.ToLower(mapsafe.Get(metadata, KeyInputLayout, string(LayoutNCHW)))); l {
	case LayoutNCHW, LayoutNHWC:
		d.InputLayout = l
	default:
		v.fail("%s: unknown layout %q", KeyInputLayout, l)
	}

	if len(v.errs) > 0 {
		return nil, &ValidationError{Model: name, Problems: v.errs}
	}
	return d, nil
}

// ParseColors parses "r,g,b;r,g,b;..." into colors.
func ParseColors(raw string) ([]Color, error) {
	var colors []Color
	for i, group := range strings.Split(raw, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}

		parts := strings.Split(group, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("color %d: expected r,g,b, got %q", i, group)
		}

		var rgb [3]uint8
		for j, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 0 || n > 255 {
				return nil, fmt.Errorf("color %d: component %q not in 0..255", i, p)
			}
			rgb[j] = uint8(n)
		}
		colors = append(colors, Color{R: rgb[0], G: rgb[1], B: rgb[2]})
	}
	return colors, nil
}

// ParseScaleFactor parses "numerator/denominator".
func ParseScaleFactor(raw string) (ScaleFactor, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return ScaleFactor{}, fmt.Errorf("expected numerator/denominator, got %q", raw)
	}

	n, err1 := strconv.Atoi(strings.TrimSpace(num))
	d, err2 := strconv.Atoi(strings.TrimSpace(den))
	if err := errors.Join(err1, err2); err != nil {
		return ScaleFactor{}, fmt.Errorf("expected integers in %q", raw)
	}
	if d == 0 {
		return ScaleFactor{}, fmt.Errorf("zero denominator in %q", raw)
	}

	return ScaleFactor{Numerator: n, Denominator: d}, nil
}
