// Copyright 2026 The opt-einsum-fx Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api is the top-level entry point: trace a model, annotate the
// graph with shapes from example inputs, optimize its einsums and return
// an executable artifact with the calling convention of the original.
package api

import (
	"log/slog"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/mister-bailey/opt-einsum-fx/encoding"
	"github.com/mister-bailey/opt-einsum-fx/graph"
	"github.com/mister-bailey/opt-einsum-fx/interp"
	"github.com/mister-bailey/opt-einsum-fx/rewrite"
	"github.com/mister-bailey/opt-einsum-fx/trace"
)

type config struct {
	rewriteOpts []rewrite.Option
}

// Option configures the optimization pipeline.
type Option func(*config)

// WithLogger sets the logger receiving missing-shape warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.rewriteOpts = append(cfg.rewriteOpts, rewrite.WithLogger(logger))
	}
}

// WithOptimalLimit bounds the exhaustive contraction path search.
func WithOptimalLimit(n int) Option {
	return func(cfg *config) {
		cfg.rewriteOpts = append(cfg.rewriteOpts, rewrite.WithOptimalLimit(n))
	}
}

// Compiled is an optimized model ready to be called.
type Compiled struct {
	graph *graph.Graph
}

// Graph returns the optimized graph.
func (c *Compiled) Graph() *graph.Graph { return c.graph }

// Call evaluates the model on the given inputs. The calling convention
// is the same as the traced model's: one tensor per model argument, in
// order.
func (c *Compiled) Call(inputs ...*tensor.Dense) (*tensor.Dense, error) {
	return interp.Run(c.graph, inputs...)
}

// Export serializes the compiled model.
func (c *Compiled) Export() ([]byte, error) {
	return encoding.Encode(c.graph)
}

// Load rebuilds a compiled model from its exported form.
func Load(data []byte) (*Compiled, error) {
	g, err := encoding.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Compiled{graph: g}, nil
}

// Optimize traces a model, fuses chains of einsums, infers shapes from
// the example inputs and rewrites every einsum to use an optimal
// contraction order. The returned artifact computes the same values as
// the model for any inputs with the shapes of exampleInputs.
func Optimize(model trace.Model, exampleInputs []*tensor.Dense, opts ...Option) (*Compiled, error) {
	g, err := trace.Trace(len(exampleInputs), model)
	if err != nil {
		return nil, errors.Wrap(err, "cannot trace model")
	}
	return optimize(g, exampleInputs, opts...)
}

// OptimizeGraph runs the optimization pipeline on an already traced
// graph.
func OptimizeGraph(g *graph.Graph, exampleInputs []*tensor.Dense, opts ...Option) (*Compiled, error) {
	return optimize(g, exampleInputs, opts...)
}

func optimize(g *graph.Graph, exampleInputs []*tensor.Dense, opts ...Option) (*Compiled, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	fused, err := rewrite.Fuse(g)
	if err != nil {
		return nil, err
	}
	if err := interp.Annotate(fused, exampleInputs...); err != nil {
		return nil, errors.Wrap(err, "cannot infer shapes from example inputs")
	}
	optimized, err := rewrite.Rewrite(fused, cfg.rewriteOpts...)
	if err != nil {
		return nil, err
	}
	return &Compiled{graph: optimized}, nil
}
