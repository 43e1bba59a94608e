package backend

import (
	"slices"
	"sort"
	"strings"
)

// ID identifies an inference engine backend.
type ID string

const (
	TensorRT   ID = "TensorRT"
	OpenVINO   ID = "OpenVINO"
	TensorFlow ID = "TensorFlow"
)

// Format is the file extension of a model artifact, without the leading dot.
type Format string

const (
	FormatONNX Format = "onnx"
	FormatUFF  Format = "uff"
	FormatXML  Format = "xml"
	FormatPB   Format = "pb"
)

// Device is the execution device requested from a backend.
type Device string

const (
	DeviceAny Device = "any"
	DeviceCPU Device = "cpu"
)

// Family groups backend variants built from the same runtime
// (TensorFlowCPU and TensorFlowCUDA both belong to TensorFlow).
func (id ID) Family() ID {
	if strings.HasPrefix(string(id), string(TensorFlow)) {
		return TensorFlow
	}
	return id
}

// Known reports whether the backend belongs to one of the supported families.
func (id ID) Known() bool {
	switch id.Family() {
	case TensorRT, OpenVINO, TensorFlow:
		return true
	}
	return false
}

// Formats returns the model formats the backend family can consume.
func (id ID) Formats() []Format {
	switch id.Family() {
	case TensorRT:
		return []Format{FormatONNX, FormatUFF}
	case OpenVINO:
		return []Format{FormatONNX, FormatXML}
	case TensorFlow:
		return []Format{FormatPB}
	}
	return nil
}

// Consumes reports whether the backend can load a model stored as f.
func (id ID) Consumes(f Format) bool {
	return slices.Contains(id.Formats(), f)
}

// PreferredFormat is the format the backend loads when it is pinned explicitly.
func (id ID) PreferredFormat() Format {
	switch id.Family() {
	case TensorRT:
		return FormatONNX
	case OpenVINO:
		return FormatXML
	case TensorFlow:
		return FormatPB
	}
	return ""
}

// SupportsCPU reports whether the backend offers a CPU execution device.
func (id ID) SupportsCPU() bool {
	switch id.Family() {
	case OpenVINO, TensorFlow:
		return true
	}
	return false
}

// ShapeStrategy tells the network layer how input and output tensors are declared.
type ShapeStrategy int

const (
	// ShapeInferred reads names and shapes from the loaded artifact.
	ShapeInferred ShapeStrategy = iota
	// ShapeNamedNHWC requires named nodes with explicit channels-last shapes.
	ShapeNamedNHWC
	// ShapeChannelFirst requires named nodes with a channels-first input and explicit output shape.
	ShapeChannelFirst
)

func (s ShapeStrategy) String() string {
	switch s {
	case ShapeNamedNHWC:
		return "named-nhwc"
	case ShapeChannelFirst:
		return "channel-first"
	}
	return "inferred"
}

// ShapeStrategy returns how the backend expects tensors to be configured for a model stored as f.
func (id ID) ShapeStrategy(f Format) ShapeStrategy {
	switch {
	case id.Family() == TensorFlow:
		return ShapeNamedNHWC
	case f == FormatUFF:
		return ShapeChannelFirst
	}
	return ShapeInferred
}

// Set is an unordered collection of installed backends.
type Set map[ID]struct{}

// NewSet builds a Set from ids.
func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether a backend of the same family as id is installed.
func (s Set) Has(id ID) bool {
	for installed := range s {
		if installed.Family() == id.Family() {
			return true
		}
	}
	return false
}

// Sorted returns the ids in lexical order.
func (s Set) Sorted() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FormatSet is the set of formats a model ships in.
type FormatSet map[Format]struct{}

// NewFormatSet builds a FormatSet from formats.
func NewFormatSet(formats ...Format) FormatSet {
	s := make(FormatSet, len(formats))
	for _, f := range formats {
		s[f] = struct{}{}
	}
	return s
}

// Has reports whether f is present.
func (s FormatSet) Has(f Format) bool {
	_, ok := s[f]
	return ok
}

// Sorted returns the formats in lexical order.
func (s FormatSet) Sorted() []Format {
	out := make([]Format, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
