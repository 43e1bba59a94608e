// Package network configures and executes neural networks for a resolved
// (backend, format) selection.
package network

import (
	"context"
	"fmt"

	"github.com/ekisa-team/pathflow/internal/backend"
	"github.com/ekisa-team/pathflow/internal/data"
	"github.com/ekisa-team/pathflow/internal/model"
)

// Network runs inference on a single input tensor.
type Network interface {
	Infer(ctx context.Context, input *data.Tensor) ([]*data.Tensor, error)
	Close() error
}

// Node is a named tensor of a network graph. A nil Shape is read from the artifact.
type Node struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape,omitempty"`
}

// Config describes how to load and feed one network.
type Config struct {
	Path      string
	Selection backend.Selection
	Strategy  backend.ShapeStrategy
	Inputs    []Node
	Outputs   []Node
	Layout    model.Layout
	Scale     float32
	InputSize model.Size
	Channels  int
}

// InputShape returns the shape a tensor built for this config must have.
func (c Config) InputShape() []int {
	if c.Layout == model.LayoutNHWC {
		return []int{1, c.InputSize.Height, c.InputSize.Width, c.Channels}
	}
	return []int{1, c.Channels, c.InputSize.Height, c.InputSize.Width}
}

// Configure derives the network configuration for d under sel. Named-node
// strategies need input_node and output_node in the model metadata.
func Configure(sel backend.Selection, d *model.Descriptor, path string) (Config, error) {
	cfg := Config{
		Path:      path,
		Selection: sel,
		Strategy:  sel.Backend.ShapeStrategy(sel.Format),
		Layout:    d.InputLayout,
		Scale:     d.Scale.Value(),
		InputSize: d.InputSize,
		Channels:  d.Channels,
	}

	h, w := int64(d.InputSize.Height), int64(d.InputSize.Width)
	c, classes := int64(d.Channels), int64(d.Classes)

	switch cfg.Strategy {
	case backend.ShapeNamedNHWC:
		if d.InputNode == "" || d.OutputNode == "" {
			return Config{}, fmt.Errorf("%w: %s with %s", ErrNodeRequired, sel.Backend, sel.Format)
		}
		cfg.Layout = model.LayoutNHWC
		cfg.Inputs = []Node{{Name: d.InputNode, Shape: []int64{1, h, w, c}}}

		out := []int64{1, classes}
		if d.Problem == model.ProblemSegmentation {
			out = []int64{1, h, w, classes}
		}
		cfg.Outputs = []Node{{Name: d.OutputNode, Shape: out}}

	case backend.ShapeChannelFirst:
		if d.InputNode == "" || d.OutputNode == "" {
			return Config{}, fmt.Errorf("%w: %s with %s", ErrNodeRequired, sel.Backend, sel.Format)
		}
		cfg.Layout = model.LayoutNCHW
		cfg.Inputs = []Node{{Name: d.InputNode, Shape: []int64{1, c, h, w}}}
		cfg.Outputs = []Node{{Name: d.OutputNode, Shape: []int64{1, classes}}}

	default:
		if d.InputNode != "" {
			cfg.Inputs = []Node{{Name: d.InputNode}}
		}
		if d.OutputNode != "" {
			cfg.Outputs = []Node{{Name: d.OutputNode}}
		}
	}

	return cfg, nil
}

// Loader turns a configuration into an executable network.
type Loader interface {
	Load(cfg Config) (Network, error)
}
