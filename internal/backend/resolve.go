package backend

import (
	"fmt"
	"log/slog"
)

// Candidate is one (backend, format) pairing considered during resolution.
type Candidate struct {
	Backend ID
	Format  Format
}

// priority lists candidates from most to least preferred.
// Accelerated runtimes come before general ones; the order is the tie-break, never discovery order.
var priority = []Candidate{
	{TensorRT, FormatONNX},
	{TensorRT, FormatUFF},
	{OpenVINO, FormatONNX},
	{OpenVINO, FormatXML},
	{TensorFlow, FormatPB},
}

// cpuPriority lists the candidates able to run on a CPU device.
var cpuPriority = []Candidate{
	{TensorFlow, FormatPB},
	{OpenVINO, FormatXML},
	{OpenVINO, FormatONNX},
}

// Selection is the resolved engine for one model run.
type Selection struct {
	Backend ID     `json:"backend"`
	Format  Format `json:"format"`
	Device  Device `json:"device"`
	Pinned  bool   `json:"pinned,omitempty"`
}

// IsZero reports whether no engine was selected.
func (s Selection) IsZero() bool {
	return s.Backend == "" || s.Format == ""
}

func (s Selection) String() string {
	if s.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s/%s (%s)", s.Backend, s.Format, s.Device)
}

// Resolve returns the first priority candidate whose format is available and whose backend is installed.
func Resolve(formats FormatSet, backends Set) (Selection, bool) {
	c, ok := firstMatch(priority, formats, backends)
	if !ok {
		return Selection{}, false
	}
	return Selection{Backend: c.Backend, Format: c.Format, Device: DeviceAny}, true
}

func firstMatch(candidates []Candidate, formats FormatSet, backends Set) (Candidate, bool) {
	for _, c := range candidates {
		if formats.Has(c.Format) && backends.Has(c.Backend) {
			return c, true
		}
	}
	return Candidate{}, false
}

// Preferences carries the per-model overrides that narrow resolution.
type Preferences struct {
	// Pinned short-circuits the priority search when set.
	Pinned ID
	// CPUOnly restricts the choice to backends offering a CPU device.
	CPUOnly bool
}

// Resolver applies model preferences on top of the priority search.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver logging its diagnostics to logger.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve picks exactly one (backend, format) pair for model, or returns ErrNoEngine / ErrPinnedUnavailable.
func (r *Resolver) Resolve(model string, prefs Preferences, formats FormatSet, backends Set) (Selection, error) {
	log := r.logger.With("model", model, "formats", formats.Sorted(), "backends", backends.Sorted())

	if prefs.Pinned != "" {
		sel, ok := resolvePinned(prefs.Pinned, formats, backends)
		if !ok {
			log.Error("Preselected backend cannot run model", "backend", prefs.Pinned)
			return Selection{}, fmt.Errorf("%w: %s", ErrPinnedUnavailable, prefs.Pinned)
		}
		if prefs.CPUOnly && sel.Backend.SupportsCPU() {
			sel.Device = DeviceCPU
		}
		log.Info("Preselected backend used", "selection", sel.String())
		return sel, nil
	}

	sel, ok := Resolve(formats, backends)
	if !ok {
		log.Error("No backend and model format combination available")
		return Selection{}, ErrNoEngine
	}

	if prefs.CPUOnly {
		if c, ok := firstMatch(cpuPriority, formats, backends); ok {
			sel = Selection{Backend: c.Backend, Format: c.Format, Device: DeviceCPU}
			log.Info("GPU disabled for model", "selection", sel.String())
		} else {
			log.Warn("CPU only was requested, but no CPU capable backend is available", "selection", sel.String())
		}
	}

	log.Info("Backend selected", "selection", sel.String())
	return sel, nil
}

func resolvePinned(id ID, formats FormatSet, backends Set) (Selection, bool) {
	if !backends.Has(id) || !id.Known() {
		return Selection{}, false
	}

	if preferred := id.PreferredFormat(); formats.Has(preferred) {
		return Selection{Backend: id.Family(), Format: preferred, Device: DeviceAny, Pinned: true}, true
	}

	for _, c := range priority {
		if c.Backend == id.Family() && formats.Has(c.Format) {
			return Selection{Backend: c.Backend, Format: c.Format, Device: DeviceAny, Pinned: true}, true
		}
	}

	return Selection{}, false
}
