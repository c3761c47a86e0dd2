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

// Package rewrite replaces einsum call-sites in a computation graph with
// an optimal sequence of elementary contractions derived from the operand
// shapes. All other nodes are copied unchanged into a new graph.
package rewrite

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/mister-bailey/opt-einsum-fx/graph"
	"github.com/mister-bailey/opt-einsum-fx/opteinsum"
)

// einsumTargets is the set of call targets recognized as einsum entry
// points. Kept as an explicit list so additions stay auditable.
var einsumTargets = map[string]bool{
	"einsum":            true,
	"functional.einsum": true,
}

// IsEinsum reports whether a node is a call to a recognized einsum entry
// point.
func IsEinsum(n *graph.Node) bool {
	return n.Kind() == graph.KindCall && einsumTargets[n.Target()]
}

type config struct {
	logger   *slog.Logger
	pathOpts []opteinsum.Option
}

// Option configures a rewrite pass.
type Option func(*config)

// WithLogger sets the logger receiving missing-shape warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithOptimalLimit bounds the exhaustive contraction path search.
func WithOptimalLimit(n int) Option {
	return func(cfg *config) {
		cfg.pathOpts = append(cfg.pathOpts, opteinsum.WithOptimalLimit(n))
	}
}

type rewriter struct {
	config
	out *graph.Graph
	// env maps node IDs of the source graph to their counterparts in the
	// output graph.
	env map[int]*graph.Node
}

// Rewrite returns a new graph in which every einsum call-site whose
// operands carry shape annotations is replaced by the expansion of an
// optimized contraction path. Einsum call-sites with a missing operand
// shape are reported through the logger and copied unchanged, as is
// every non-einsum node. The input graph is never modified.
func Rewrite(src *graph.Graph, opts ...Option) (*graph.Graph, error) {
	r := &rewriter{
		config: config{logger: slog.Default()},
		out:    graph.New(),
		env:    map[int]*graph.Node{},
	}
	for _, opt := range opts {
		opt(&r.config)
	}
	for node := range src.Nodes() {
		if IsEinsum(node) {
			replaced, err := r.rewriteEinsum(node)
			if err != nil {
				return nil, err
			}
			if replaced {
				continue
			}
		}
		copied, err := r.out.Copy(node, r.lookup)
		if err != nil {
			return nil, err
		}
		r.env[node.ID()] = copied
	}
	if err := r.out.Lint(); err != nil {
		return nil, errors.Wrap(err, "rewrite produced an inconsistent graph")
	}
	return r.out, nil
}

func (r *rewriter) lookup(n *graph.Node) (*graph.Node, error) {
	mapped, ok := r.env[n.ID()]
	if !ok {
		return nil, errors.Errorf("node %%%s has not been processed yet", n.Name())
	}
	return mapped, nil
}

// rewriteEinsum replaces one einsum call-site. It returns false when the
// site must be copied unchanged instead: the arguments do not follow the
// einsum call convention, or an operand lacks a shape annotation.
func (r *rewriter) rewriteEinsum(node *graph.Node) (bool, error) {
	args := node.Args()
	if len(args) < 2 {
		return false, nil
	}
	equation, ok := args[0].(graph.String)
	if !ok {
		return false, nil
	}
	shapes := make([]opteinsum.Shape, 0, len(args)-1)
	operands := make([]*graph.Node, 0, len(args)-1)
	for _, arg := range args[1:] {
		ref, ok := arg.(graph.NodeRef)
		if !ok {
			return false, nil
		}
		sh := ref.Node().Shape()
		if sh == nil {
			r.logger.Warn("einsum lacked shape information; not optimizing. "+
				"Did you forget to run shape propagation on this graph?",
				"node", node.String())
			return false, nil
		}
		shapes = append(shapes, sh.AxisLengths)
		proxy, err := r.lookup(ref.Node())
		if err != nil {
			return false, err
		}
		operands = append(operands, proxy)
	}
	info, err := opteinsum.ContractPath(string(equation), shapes, r.pathOpts...)
	if err != nil {
		return false, errors.Wrapf(err, "cannot optimize %s", node)
	}
	result, err := opteinsum.Contract(operands, info.Contractions, builder{out: r.out})
	if err != nil {
		return false, errors.Wrapf(err, "cannot expand %s", node)
	}
	r.env[node.ID()] = result
	return true, nil
}

// builder appends elementary contraction operations to the output graph.
// It is the symbolic backend handed to the contraction expander: steps
// become nodes, not values.
type builder struct {
	out *graph.Graph
}

var _ opteinsum.Builder[*graph.Node] = builder{}

func (b builder) Einsum(equation string, operands ...*graph.Node) (*graph.Node, error) {
	args := make([]graph.Arg, 0, len(operands)+1)
	args = append(args, graph.String(equation))
	for _, op := range operands {
		args = append(args, graph.Ref(op))
	}
	return b.out.Call("einsum", args...), nil
}

func (b builder) Tensordot(x, y *graph.Node, axes [2][]int) (*graph.Node, error) {
	return b.out.Call("tensordot",
		graph.Ref(x), graph.Ref(y), graph.Ints(axes[0]), graph.Ints(axes[1])), nil
}

func (b builder) Transpose(x *graph.Node, perm []int) (*graph.Node, error) {
	return b.out.Call("transpose", graph.Ref(x), graph.Ints(perm)), nil
}
