package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/data"
)

// ONNXRuntime loads onnx artifacts through the ONNX Runtime shared library,
// mapping the resolved backend onto an execution provider.
type ONNXRuntime struct {
	libPath     string
	logger      *slog.Logger
	initialized bool
	mu          sync.Mutex
}

var _ Loader = (*ONNXRuntime)(nil)

// NewONNXRuntime creates a loader. An empty libPath uses the library's default lookup.
func NewONNXRuntime(libPath string, logger *slog.Logger) *ONNXRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &ONNXRuntime{libPath: libPath, logger: logger}
}

func (r *ONNXRuntime) init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized || ort.IsInitialized() {
		r.initialized = true
		return nil
	}

	if r.libPath != "" {
		ort.SetSharedLibraryPath(r.libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	r.initialized = true

	r.logger.Info("ONNX Runtime initialized", "library", r.libPath)
	return nil
}

// Close tears down the ONNX environment. Networks must be closed first.
func (r *ONNXRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	r.initialized = false
	return ort.DestroyEnvironment()
}

// Load implements Loader. Only the onnx format has a runtime; uff, xml and pb
// selections fail here rather than at resolution time.
func (r *ONNXRuntime) Load(cfg Config) (Network, error) {
	if cfg.Selection.Format != backend.FormatONNX {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeUnavailable, cfg.Selection)
	}
	if err := r.init(); err != nil {
		return nil, err
	}

	inputs, outputs, err := resolveNodes(cfg)
	if err != nil {
		return nil, err
	}

	opts, err := r.sessionOptions(cfg.Selection)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	s := &onnxSession{}
	for _, n := range inputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(n.Shape...))
		if err != nil {
			s.destroy()
			return nil, fmt.Errorf("failed to create input tensor %s: %w", n.Name, err)
		}
		s.inputs = append(s.inputs, t)
	}
	for _, n := range outputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(n.Shape...))
		if err != nil {
			s.destroy()
			return nil, fmt.Errorf("failed to create output tensor %s: %w", n.Name, err)
		}
		s.outputs = append(s.outputs, t)
	}

	session, err := ort.NewAdvancedSession(cfg.Path,
		names(inputs), names(outputs),
		arbitrary(s.inputs), arbitrary(s.outputs),
		opts)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", cfg.Path, err)
	}
	s.session = session

	r.logger.Debug("ONNX session created",
		"path", cfg.Path,
		"selection", cfg.Selection.String(),
		"inputs", len(inputs),
		"outputs", len(outputs),
	)
	return s, nil
}

func (r *ONNXRuntime) sessionOptions(sel backend.Selection) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	switch sel.Backend.Family() {
	case backend.TensorRT:
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to create TensorRT options: %w", err)
		}
		defer trt.Destroy()

		if err := opts.AppendExecutionProviderTensorRT(trt); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to enable TensorRT: %w", err)
		}
	case backend.OpenVINO:
		device := map[string]string{}
		if sel.Device == backend.DeviceCPU {
			device["device_type"] = "CPU"
		}
		if err := opts.AppendExecutionProviderOpenVINO(device); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to enable OpenVINO: %w", err)
		}
	}

	return opts, nil
}

// resolveNodes fills in names and shapes the configuration leaves open from
// the artifact itself. Dynamic dimensions are pinned to 1.
func resolveNodes(cfg Config) ([]Node, []Node, error) {
	inputs, outputs := cfg.Inputs, cfg.Outputs
	if complete(inputs) && complete(outputs) {
		return inputs, outputs, nil
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read network I/O from %s: %w", cfg.Path, err)
	}

	return merge(inputs, inInfo), merge(outputs, outInfo), nil
}

func complete(nodes []Node) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if n.Name == "" || n.Shape == nil {
			return false
		}
	}
	return true
}

func merge(nodes []Node, info []ort.InputOutputInfo) []Node {
	byName := make(map[string]ort.InputOutputInfo, len(info))
	for _, i := range info {
		byName[i.Name] = i
	}

	if len(nodes) == 0 {
		for _, i := range info {
			nodes = append(nodes, Node{Name: i.Name})
		}
	}

	out := make([]Node, len(nodes))
	for k, n := range nodes {
		out[k] = n
		if n.Shape != nil {
			continue
		}
		if i, ok := byName[n.Name]; ok {
			out[k].Shape = pinDynamic(i.Dimensions)
		}
	}
	return out
}

func pinDynamic(dims ort.Shape) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func arbitrary(ts []*ort.Tensor[float32]) []ort.ArbitraryTensor {
	out := make([]ort.ArbitraryTensor, len(ts))
	for i, t := range ts {
		out[i] = t
	}
	return out
}

type onnxSession struct {
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	mu      sync.Mutex
}

func (s *onnxSession) Infer(ctx context.Context, input *data.Tensor) ([]*data.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrClosed
	}

	dst := s.inputs[0].GetData()
	if len(dst) != len(input.Data) {
		return nil, fmt.Errorf("%w: network takes %d values, got %d", ErrInputShape, len(dst), len(input.Data))
	}
	copy(dst, input.Data)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	results := make([]*data.Tensor, len(s.outputs))
	for i, o := range s.outputs {
		shape := o.GetShape()
		dims := make([]int, len(shape))
		for j, d := range shape {
			dims[j] = int(d)
		}
		results[i] = &data.Tensor{
			Shape:   dims,
			Data:    append([]float32(nil), o.GetData()...),
			Spacing: input.Spacing,
		}
	}
	return results, nil
}

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroy()
	return nil
}

func (s *onnxSession) destroy() {
	for _, t := range s.inputs {
		t.Destroy()
	}
	for _, t := range s.outputs {
		t.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	s.inputs, s.outputs, s.session = nil, nil, nil
}
