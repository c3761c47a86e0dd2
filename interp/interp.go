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

// Package interp evaluates computation graphs eagerly over dense float64
// tensors. It executes compiled graphs and doubles as the shape oracle:
// running a graph on example inputs annotates every node with its shape.
package interp

import (
	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/shape"
	"gorgonia.org/tensor"

	"github.com/mister-bailey/opt-einsum-fx/graph"
)

// Run evaluates a graph on the given inputs, matching placeholders to
// inputs in graph order, and returns the value of the output node.
func Run(g *graph.Graph, inputs ...*tensor.Dense) (*tensor.Dense, error) {
	ev := &evaluator{values: map[int]*tensor.Dense{}}
	return ev.eval(g, inputs)
}

// Annotate runs the graph on example inputs and attaches the shape of
// every value to its node. Einsum call-sites require these annotations
// before they can be rewritten.
func Annotate(g *graph.Graph, inputs ...*tensor.Dense) error {
	ev := &evaluator{values: map[int]*tensor.Dense{}}
	if _, err := ev.eval(g, inputs); err != nil {
		return err
	}
	for node := range g.Nodes() {
		value, ok := ev.values[node.ID()]
		if !ok {
			continue
		}
		node.SetShape(&shape.Shape{
			DType:       dtype.Float64,
			AxisLengths: append([]int{}, []int(value.Shape())...),
		})
	}
	return nil
}

type evaluator struct {
	kernels Kernels
	values  map[int]*tensor.Dense
}

func (ev *evaluator) eval(g *graph.Graph, inputs []*tensor.Dense) (*tensor.Dense, error) {
	var out *tensor.Dense
	next := 0
	for node := range g.Nodes() {
		switch node.Kind() {
		case graph.KindPlaceholder:
			if next >= len(inputs) {
				return nil, errors.Errorf("graph has more placeholders than the %d inputs given", len(inputs))
			}
			ev.values[node.ID()] = inputs[next]
			next++
		case graph.KindCall:
			value, err := ev.call(node)
			if err != nil {
				return nil, errors.Wrapf(err, "evaluating %s", node)
			}
			ev.values[node.ID()] = value
		case graph.KindOutput:
			value, err := ev.operand(node, 0)
			if err != nil {
				return nil, err
			}
			ev.values[node.ID()] = value
			out = value
		default:
			return nil, errors.Errorf("cannot evaluate node %s", node)
		}
	}
	if next != len(inputs) {
		return nil, errors.Errorf("graph has %d placeholders but %d inputs were given", next, len(inputs))
	}
	if out == nil {
		return nil, errors.Errorf("graph has no output node")
	}
	return out, nil
}

func (ev *evaluator) call(node *graph.Node) (*tensor.Dense, error) {
	switch node.Target() {
	case "einsum", "functional.einsum":
		equation, err := argString(node, 0)
		if err != nil {
			return nil, err
		}
		operands := make([]*tensor.Dense, len(node.Args())-1)
		for i := range operands {
			if operands[i], err = ev.operand(node, i+1); err != nil {
				return nil, err
			}
		}
		return ev.kernels.Einsum(equation, operands...)
	case "tensordot":
		x, y, err := ev.operands2(node)
		if err != nil {
			return nil, err
		}
		axesX, err := argInts(node, 2)
		if err != nil {
			return nil, err
		}
		axesY, err := argInts(node, 3)
		if err != nil {
			return nil, err
		}
		return ev.kernels.Tensordot(x, y, [2][]int{axesX, axesY})
	case "transpose":
		x, err := ev.operand(node, 0)
		if err != nil {
			return nil, err
		}
		perm, err := argInts(node, 1)
		if err != nil {
			return nil, err
		}
		return ev.kernels.Transpose(x, perm)
	case "narrow":
		x, err := ev.operand(node, 0)
		if err != nil {
			return nil, err
		}
		axis, start, length, err := argInts3(node)
		if err != nil {
			return nil, err
		}
		return ev.kernels.Narrow(x, axis, start, length)
	case "index":
		x, err := ev.operand(node, 0)
		if err != nil {
			return nil, err
		}
		axis, err := argInt(node, 1)
		if err != nil {
			return nil, err
		}
		i, err := argInt(node, 2)
		if err != nil {
			return nil, err
		}
		return ev.kernels.Index(x, axis, i)
	case "add":
		x, y, err := ev.operands2(node)
		if err != nil {
			return nil, err
		}
		return ev.kernels.Add(x, y)
	case "sub":
		x, y, err := ev.operands2(node)
		if err != nil {
			return nil, err
		}
		return ev.kernels.Sub(x, y)
	case "mul":
		x, y, err := ev.operands2(node)
		if err != nil {
			return nil, err
		}
		return ev.kernels.Mul(x, y)
	}
	return nil, errors.Errorf("unknown call target %q", node.Target())
}

func (ev *evaluator) operand(node *graph.Node, i int) (*tensor.Dense, error) {
	args := node.Args()
	if i >= len(args) {
		return nil, errors.Errorf("missing argument %d", i)
	}
	ref, ok := args[i].(graph.NodeRef)
	if !ok {
		return nil, errors.Errorf("argument %d is %s, want a node reference", i, args[i])
	}
	value, ok := ev.values[ref.Node().ID()]
	if !ok {
		return nil, errors.Errorf("argument %d references %%%s which has no value", i, ref.Node().Name())
	}
	return value, nil
}

func (ev *evaluator) operands2(node *graph.Node) (x, y *tensor.Dense, err error) {
	if x, err = ev.operand(node, 0); err != nil {
		return nil, nil, err
	}
	if y, err = ev.operand(node, 1); err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func argString(node *graph.Node, i int) (string, error) {
	args := node.Args()
	if i >= len(args) {
		return "", errors.Errorf("missing argument %d", i)
	}
	lit, ok := args[i].(graph.String)
	if !ok {
		return "", errors.Errorf("argument %d is %s, want a string literal", i, args[i])
	}
	return string(lit), nil
}

func argInt(node *graph.Node, i int) (int, error) {
	args := node.Args()
	if i >= len(args) {
		return 0, errors.Errorf("missing argument %d", i)
	}
	lit, ok := args[i].(graph.Int)
	if !ok {
		return 0, errors.Errorf("argument %d is %s, want an integer literal", i, args[i])
	}
	return int(lit), nil
}

func argInts(node *graph.Node, i int) ([]int, error) {
	args := node.Args()
	if i >= len(args) {
		return nil, errors.Errorf("missing argument %d", i)
	}
	lit, ok := args[i].(graph.Ints)
	if !ok {
		return nil, errors.Errorf("argument %d is %s, want an integer list literal", i, args[i])
	}
	return []int(lit), nil
}

func argInts3(node *graph.Node) (a, b, c int, err error) {
	if a, err = argInt(node, 1); err != nil {
		return
	}
	if b, err = argInt(node, 2); err != nil {
		return
	}
	c, err = argInt(node, 3)
	return
}
