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

// Package trace builds computation graphs by running a model function
// over symbolic tensors. Every operation on a symbolic tensor appends a
// call node to the graph under construction instead of computing a value.
package trace

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/mister-bailey/opt-einsum-fx/graph"
)

// Tensor is a symbolic stand-in for a tensor value. Operations on it
// record graph nodes. Mixing tensors of different traces panics: it is a
// programming error in the traced model, not a runtime condition.
type Tensor struct {
	graph *graph.Graph
	node  *graph.Node
}

// Node returns the graph node this tensor stands for.
func (t *Tensor) Node() *graph.Node { return t.node }

func (t *Tensor) wrap(n *graph.Node) *Tensor {
	return &Tensor{graph: t.graph, node: n}
}

func (t *Tensor) sameTrace(others ...*Tensor) {
	for _, o := range others {
		if o.graph != t.graph {
			panic("trace: tensors belong to different traces")
		}
	}
}

// Einsum records an einsum call over the operands.
func Einsum(equation string, operands ...*Tensor) *Tensor {
	if len(operands) == 0 {
		panic("trace: einsum needs at least one operand")
	}
	first := operands[0]
	first.sameTrace(operands[1:]...)
	args := make([]graph.Arg, 0, len(operands)+1)
	args = append(args, graph.String(equation))
	for _, op := range operands {
		args = append(args, graph.Ref(op.node))
	}
	return first.wrap(first.graph.Call("einsum", args...))
}

func (t *Tensor) binary(target string, other *Tensor) *Tensor {
	t.sameTrace(other)
	return t.wrap(t.graph.Call(target, graph.Ref(t.node), graph.Ref(other.node)))
}

// Add records an elementwise sum.
func (t *Tensor) Add(other *Tensor) *Tensor { return t.binary("add", other) }

// Sub records an elementwise difference.
func (t *Tensor) Sub(other *Tensor) *Tensor { return t.binary("sub", other) }

// Mul records an elementwise product.
func (t *Tensor) Mul(other *Tensor) *Tensor { return t.binary("mul", other) }

// Narrow records keeping length elements of one axis starting at start.
func (t *Tensor) Narrow(axis, start, length int) *Tensor {
	return t.wrap(t.graph.Call("narrow",
		graph.Ref(t.node), graph.Int(axis), graph.Int(start), graph.Int(length)))
}

// Index records selecting one position along an axis, dropping the axis.
func (t *Tensor) Index(axis, i int) *Tensor {
	return t.wrap(t.graph.Call("index",
		graph.Ref(t.node), graph.Int(axis), graph.Int(i)))
}

// Model is a traceable function over symbolic tensors.
type Model func(args []*Tensor) *Tensor

// Trace runs a model over numArgs symbolic inputs and returns the
// recorded graph. Inputs are named x0, x1, ... unless names are given.
func Trace(numArgs int, model Model, names ...string) (*graph.Graph, error) {
	if len(names) > 0 && len(names) != numArgs {
		return nil, errors.Errorf("trace: got %d names for %d arguments", len(names), numArgs)
	}
	g := graph.New()
	args := make([]*Tensor, numArgs)
	for i := range args {
		name := string(rune('x' + i%3))
		if numArgs > 3 {
			name = "x" + strconv.Itoa(i)
		}
		if len(names) > 0 {
			name = names[i]
		}
		args[i] = &Tensor{graph: g, node: g.Placeholder(name)}
	}
	result := model(args)
	if result == nil {
		return nil, errors.Errorf("trace: model returned no result")
	}
	if result.graph != g {
		return nil, errors.Errorf("trace: model returned a tensor from a different trace")
	}
	g.Output(result.node)
	if err := g.Lint(); err != nil {
		return nil, errors.Wrap(err, "trace built an inconsistent graph")
	}
	return g, nil
}

// Func2 traces a two-argument model.
func Func2(model func(x, y *Tensor) *Tensor) (*graph.Graph, error) {
	return Trace(2, func(args []*Tensor) *Tensor {
		return model(args[0], args[1])
	})
}
