package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/model"
	"github.com/ekisa-team/pathflow/internal/network"
	"github.com/ekisa-team/pathflow/internal/render"
	"github.com/ekisa-team/pathflow/internal/wsi"
)

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) Load(cfg network.Config) (network.Network, error) {
	args := m.Called(cfg)
	net, _ := args.Get(0).(network.Network)
	return net, args.Error(1)
}

type fakeNetwork struct {
	infer  func(in *data.Tensor) ([]*data.Tensor, error)
	calls  int
	closed bool
	mu     sync.Mutex
}

func (n *fakeNetwork) Infer(_ context.Context, in *data.Tensor) ([]*data.Tensor, error) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return n.infer(in)
}

func (n *fakeNetwork) Close() error {
	n.closed = true
	return nil
}

func constant(shape []int, values ...float32) func(*data.Tensor) ([]*data.Tensor, error) {
	return func(*data.Tensor) ([]*data.Tensor, error) {
		t := data.NewTensor(shape...)
		for i := range t.Data {
			t.Data[i] = values[i%len(values)]
		}
		return []*data.Tensor{t}, nil
	}
}

type fixture struct {
	root    string
	catalog *model.Catalog
	loader  *mockLoader
	asm     *Assembler
	slide   *wsi.Slide
}

// newFixture builds a 256x256 slide at 40x whose top-left quarter is tissue.
func newFixture(t *testing.T, backends ...string) *fixture {
	t.Helper()

	libDir := t.TempDir()
	for _, b := range backends {
		require.NoError(t, os.WriteFile(filepath.Join(libDir, "libInferenceEngine"+b+".so"), nil, 0o644))
	}
	registry := backend.NewRegistryFor(libDir, "linux")
	require.NoError(t, registry.Refresh())

	root := t.TempDir()
	catalog := model.NewCatalog(root, nil)
	loader := &mockLoader{}

	base := data.NewImage(256, 256, 3)
	for y := range 256 {
		for x := range 256 {
			v := uint8(255)
			if x < 128 && y < 128 {
				v = 60
			}
			for c := range 3 {
				base.Set(x, y, c, v)
			}
		}
	}

	return &fixture{
		root:    root,
		catalog: catalog,
		loader:  loader,
		asm:     NewAssembler(registry, catalog, loader),
		slide:   wsi.NewSlide("slide-1", "slide-1.png", wsi.NewMemoryPyramid(base, 40)),
	}
}

func (f *fixture) addModel(t *testing.T, name string, metadata map[string]string, files ...string) {
	t.Helper()

	dir := filepath.Join(f.root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".txt"), []byte(model.FormatMetadata(metadata)), 0o644))
	for _, file := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte("1,2 3,4 5,6 7,8 9,10 11,12"), 0o644))
	}
	require.NoError(t, f.catalog.Load())
}

func metadata(problem, resolution string, extra map[string]string) map[string]string {
	m := map[string]string{
		model.KeyProblem:     problem,
		model.KeyResolution:  resolution,
		model.KeyInputWidth:  "64",
		model.KeyInputHeight: "64",
		model.KeyChannels:    "3",
		model.KeyClasses:     "2",
		model.KeyClassColors: "0,0,0;255,0,0",
		model.KeyScaleFactor: "1/255",
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func TestAssemble_NoEngine(t *testing.T) {
	f := newFixture(t, "TensorFlow")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.onnx")

	h, err := f.asm.Assemble("tumor", f.slide)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrResolution)
	assert.ErrorIs(t, err, backend.ErrNoEngine)
	assert.False(t, f.slide.HasRenderer("tumor"))
	f.loader.AssertNotCalled(t, "Load", mock.Anything)
}

func TestAssemble_ConfigurationErrors(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "lowcls", metadata("classification", "low", nil), "lowcls.onnx")
	f.addModel(t, "broken", map[string]string{model.KeyProblem: "classification"}, "broken.onnx")
	f.addModel(t, "tfnodes", metadata("classification", "high", map[string]string{model.KeyBackend: "TensorFlow"}), "tfnodes.pb")

	_, err := f.asm.Assemble("lowcls", f.slide)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = f.asm.Assemble("broken", f.slide)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, model.ErrInvalidMetadata)

	_, err = f.asm.Assemble("missing", f.slide)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.asm.Assemble("tfnodes", f.slide)
	assert.ErrorIs(t, err, ErrResolution)

	assert.Empty(t, f.slide.RendererNames())
	f.loader.AssertNotCalled(t, "Load", mock.Anything)
}

func TestAssemble_NamedNodesRequired(t *testing.T) {
	f := newFixture(t, "TensorFlowCPU")
	f.addModel(t, "tf", metadata("classification", "high", nil), "tf.pb")

	_, err := f.asm.Assemble("tf", f.slide)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, network.ErrNodeRequired)
}

func TestAssemble_DetectionRequiresOpenVINO(t *testing.T) {
	f := newFixture(t, "TensorRT")
	f.addModel(t, "nuclei", metadata("object_detection", "high", nil), "nuclei.onnx", "nuclei.anchors")

	_, err := f.asm.Assemble("nuclei", f.slide)
	assert.ErrorIs(t, err, ErrFormatMismatch)
	assert.False(t, f.slide.HasRenderer("nuclei"))
}

func TestAssemble_DetectionMissingAnchors(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "nuclei", metadata("object_detection", "high", nil), "nuclei.onnx")

	_, err := f.asm.Assemble("nuclei", f.slide)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, model.ErrAnchors)
	assert.False(t, f.slide.HasRenderer("nuclei"))
}

func TestAssemble_DegenerateLevel(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "deep", metadata("classification", "high", map[string]string{model.KeyMagnification: "80"}), "deep.onnx")

	_, err := f.asm.Assemble("deep", f.slide)
	assert.ErrorIs(t, err, ErrArithmeticDegenerate)
	assert.False(t, f.slide.HasRenderer("deep"))
}

func TestAssemble_LoadFailure(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.xml")
	f.loader.On("Load", mock.Anything).Return(nil, network.ErrRuntimeUnavailable)

	_, err := f.asm.Assemble("tumor", f.slide)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, network.ErrRuntimeUnavailable)
	assert.False(t, f.slide.HasRenderer("tumor"))
}

func TestAssemble_Idempotent(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.onnx")
	net := &fakeNetwork{infer: constant([]int{1, 2}, 0.25, 0.75)}
	f.loader.On("Load", mock.Anything).Return(net, nil)

	h, err := f.asm.Assemble("tumor", f.slide)
	require.NoError(t, err)
	defer h.Close()

	_, err = f.asm.Assemble("tumor", f.slide)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = h.Run(context.Background())
	require.NoError(t, err)

	_, err = f.asm.Assemble("tumor", f.slide)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.Equal(t, []string{"tumor"}, f.slide.RendererNames())
	f.loader.AssertNumberOfCalls(t, "Load", 1)
}

func TestRun_ClassificationHigh(t *testing.T) {
	f := newFixture(t, "OpenVINO", "TensorFlow")
	f.addModel(t, "tumor", metadata("classification", "high", map[string]string{model.KeyMagnification: "20"}), "tumor.onnx", "tumor.pb")

	var inputs [][]int
	net := &fakeNetwork{infer: func(in *data.Tensor) ([]*data.Tensor, error) {
		inputs = append(inputs, in.Shape)
		return constant([]int{1, 2}, 0.25, 0.75)(in)
	}}
	f.loader.On("Load", mock.MatchedBy(func(cfg network.Config) bool {
		return cfg.Selection.Backend == backend.OpenVINO &&
			cfg.Selection.Format == backend.FormatONNX &&
			cfg.Path == filepath.Join(f.root, "tumor", "tumor.onnx")
	})).Return(net, nil)

	h, err := f.asm.Assemble("tumor", f.slide)
	require.NoError(t, err)
	defer h.Close()

	outputs, err := h.Run(context.Background())
	require.NoError(t, err)

	heatmap, ok := outputs[OutputHeatmap].(*data.Tensor)
	require.True(t, ok)
	assert.Equal(t, []int{2, 2, 2}, heatmap.Shape)
	assert.Equal(t, []float32{0.25, 0.75, 0.25, 0.75, 0.25, 0.75, 0.25, 0.75}, heatmap.Data)
	assert.Equal(t, data.Spacing{128, 128}, heatmap.Spacing)
	assert.Equal(t, 4, net.calls)
	assert.Equal(t, []int{1, 3, 64, 64}, inputs[0])

	r, ok := f.slide.Renderer("tumor")
	require.True(t, ok)
	hm := r.(*render.Heatmap)
	assert.Equal(t, float32(0.6), hm.MaxOpacity)
	assert.Equal(t, uint8(255), hm.Colors[1].R)
	assert.Same(t, heatmap, hm.Input())

	rs := h.Renderers()
	require.Len(t, rs, 2)
	assert.Equal(t, render.KindImagePyramid, rs[0].Kind())
}

func TestAssemble_WithOverrides(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", map[string]string{model.KeyMagnification: "20"}), "tumor.onnx")
	net := &fakeNetwork{infer: constant([]int{1, 2}, 0.25, 0.75)}
	f.loader.On("Load", mock.Anything).Return(net, nil)

	h, err := f.asm.Assemble("tumor", f.slide, WithOverrides(map[string]string{model.KeyPatchOverlap: "0.5"}))
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 0.5, h.Descriptor.PatchOverlap)

	outputs, err := h.Run(context.Background())
	require.NoError(t, err)

	// 128x128 level 1 tiled by 64 pixel patches every 32 pixels
	heatmap := outputs[OutputHeatmap].(*data.Tensor)
	assert.Equal(t, []int{4, 4, 2}, heatmap.Shape)
	assert.Equal(t, 16, net.calls)

	d, err := f.catalog.Descriptor("tumor")
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.PatchOverlap)
}

func TestAssemble_InvalidOverrides(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.onnx")

	_, err := f.asm.Assemble("tumor", f.slide, WithOverrides(map[string]string{model.KeyProblem: "regression"}))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.False(t, f.slide.HasRenderer("tumor"))
	f.loader.AssertNotCalled(t, "Load", mock.Anything)
}

func TestRun_SegmentationLow(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "glands", metadata("segmentation", "low", map[string]string{
		model.KeyInputWidth:  "32",
		model.KeyInputHeight: "32",
	}), "glands.onnx")
	net := &fakeNetwork{infer: func(in *data.Tensor) ([]*data.Tensor, error) {
		// NCHW, class 1 wins everywhere.
		out := data.NewTensor(1, 2, 32, 32)
		for i := 32 * 32; i < len(out.Data); i++ {
			out.Data[i] = 1
		}
		return []*data.Tensor{out}, nil
	}}
	f.loader.On("Load", mock.Anything).Return(net, nil)

	h, err := f.asm.Assemble("glands", f.slide)
	require.NoError(t, err)
	defer h.Close()

	outputs, err := h.Run(context.Background())
	require.NoError(t, err)

	labels, ok := outputs[OutputSegmentation].(*data.Image)
	require.True(t, ok)
	assert.Equal(t, 64, labels.Width)
	assert.Equal(t, 64, labels.Height)
	assert.Equal(t, uint8(1), labels.At(63, 63, 0))
	assert.Equal(t, data.Spacing{4, 4}, labels.Spacing)

	r, _ := f.slide.Renderer("glands")
	assert.Equal(t, float32(0.4), r.(*render.Segmentation).Opacity)
}

func TestRun_SegmentationHighMasked(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "glands", metadata("segmentation", "high", map[string]string{
		model.KeyTissueThreshold: "85",
	}), "glands.onnx")
	net := &fakeNetwork{infer: constant([]int{1, 64, 64, 2}, 0, 1)}
	f.loader.On("Load", mock.Anything).Return(net, nil)

	h, err := f.asm.Assemble("glands", f.slide)
	require.NoError(t, err)
	defer h.Close()

	outputs, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, net.calls)

	p, ok := outputs[OutputSegmentation].(*data.Pyramid)
	require.True(t, ok)
	require.Len(t, p.Levels, 3)
	assert.Equal(t, uint8(1), p.Levels[0].At(10, 10, 0))
	assert.Equal(t, uint8(0), p.Levels[0].At(200, 200, 0))

	r, _ := f.slide.Renderer("glands")
	assert.Equal(t, float32(0.7), r.(*render.Segmentation).Opacity)
	assert.Equal(t, float32(1), r.(*render.Segmentation).BorderOpacity)
}

func TestRun_TissueOutputMasksLaterRuns(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "glands", metadata("segmentation", "high", nil), "glands.onnx")

	tissue, err := f.asm.Assemble(TissueProcess, f.slide)
	require.NoError(t, err)
	outputs, err := tissue.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, tissue.Close())

	mask, ok := outputs[OutputTissue].(*data.Image)
	require.True(t, ok)
	assert.Equal(t, data.Spacing{4, 4}, mask.Spacing)
	assert.True(t, f.slide.HasRenderer(TissueProcess))

	net := &fakeNetwork{infer: constant([]int{1, 64, 64, 2}, 1, 0)}
	f.loader.On("Load", mock.Anything).Return(net, nil)

	h, err := f.asm.Assemble("glands", f.slide)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, net.calls)
}

func TestRun_Detection(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "nuclei", metadata("object_detection", "high", map[string]string{
		model.KeyClasses:     "1",
		model.KeyClassColors: "255,0,0",
	}), "nuclei.onnx", "nuclei.anchors")

	net := &fakeNetwork{infer: func(*data.Tensor) ([]*data.Tensor, error) {
		coarse := data.NewTensor(1, 18, 2, 2)
		fine := data.NewTensor(1, 18, 4, 4)
		for i := range coarse.Data {
			coarse.Data[i] = -10
		}
		for i := range fine.Data {
			fine.Data[i] = -10
		}
		// cell (0,0), anchor 0: centred box with objectness and class set.
		for ch := range 4 {
			coarse.Data[ch*4] = 0
		}
		coarse.Data[4*4] = 10
		coarse.Data[5*4] = 10
		return []*data.Tensor{coarse, fine}, nil
	}}
	f.loader.On("Load", mock.Anything).Return(net, nil)

	h, err := f.asm.Assemble("nuclei", f.slide)
	require.NoError(t, err)
	defer h.Close()

	outputs, err := h.Run(context.Background())
	require.NoError(t, err)

	boxes, ok := outputs[OutputBoxes].(*data.BoxSet)
	require.True(t, ok)
	require.Len(t, boxes.Boxes, 16)
	// anchor (1,2) centred on cell (0,0) of a 2x2 grid over a 64 pixel input.
	assert.InDelta(t, 15.5, boxes.Boxes[0].X, 1e-3)
	assert.InDelta(t, 15, boxes.Boxes[0].Y, 1e-3)
	assert.InDelta(t, 1, boxes.Boxes[0].Width, 1e-3)
	assert.InDelta(t, 2, boxes.Boxes[0].Height, 1e-3)
	assert.InDelta(t, 64+15.5, boxes.Boxes[1].X, 1e-3)

	r, _ := f.slide.Renderer("nuclei")
	assert.Equal(t, render.KindBoundingBox, r.Kind())
}

func TestRun_FailureUnregisters(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.onnx")
	boom := errors.New("device lost")
	f.loader.On("Load", mock.Anything).Return(&fakeNetwork{infer: func(*data.Tensor) ([]*data.Tensor, error) {
		return nil, boom
	}}, nil)

	h, err := f.asm.Assemble("tumor", f.slide)
	require.NoError(t, err)
	assert.True(t, f.slide.HasRenderer("tumor"))

	_, err = h.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, f.slide.HasRenderer("tumor"))
	require.NoError(t, h.Close())

	_, err = h.Run(context.Background())
	assert.ErrorIs(t, err, ErrHandleUsed)
}

func TestRun_PanicRecovered(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.onnx")
	f.loader.On("Load", mock.Anything).Return(&fakeNetwork{infer: func(*data.Tensor) ([]*data.Tensor, error) {
		panic("index out of range")
	}}, nil)

	h, err := f.asm.Assemble("tumor", f.slide)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.False(t, f.slide.HasRenderer("tumor"))
}

func TestRun_WrongOutputShape(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.onnx")
	f.loader.On("Load", mock.Anything).Return(&fakeNetwork{infer: constant([]int{1, 5}, 1)}, nil)

	h, err := f.asm.Assemble("tumor", f.slide)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, f.slide.HasRenderer("tumor"))
}

func TestClose_AbandonsWithoutSink(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.onnx")
	net := &fakeNetwork{infer: constant([]int{1, 2}, 0.5)}
	f.loader.On("Load", mock.Anything).Return(net, nil)

	h, err := f.asm.Assemble("tumor", f.slide)
	require.NoError(t, err)
	r := h.Renderer()

	require.NoError(t, h.Close())
	assert.True(t, net.closed)
	assert.Nil(t, r.Input())
	assert.False(t, f.slide.HasRenderer("tumor"))
	assert.Zero(t, net.calls)

	_, err = h.Run(context.Background())
	assert.ErrorIs(t, err, ErrHandleUsed)
	assert.NoError(t, h.Close())
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, "OpenVINO")
	f.addModel(t, "tumor", metadata("classification", "high", nil), "tumor.onnx")
	f.loader.On("Load", mock.Anything).Return(&fakeNetwork{infer: constant([]int{1, 2}, 0.5)}, nil)

	h, err := f.asm.Assemble("tumor", f.slide)
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, h.Renderer().Input())
	assert.False(t, f.slide.HasRenderer("tumor"))
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(model.ProblemSegmentation, model.ResolutionLow))
	assert.False(t, Supported(model.ProblemObjectDetection, model.ResolutionLow))
	assert.False(t, Supported(model.ProblemClassification, model.ResolutionLow))
}
