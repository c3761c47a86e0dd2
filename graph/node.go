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

package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gx-org/backend/shape"
)

// Kind identifies what a node represents.
type Kind int

const (
	// KindInvalid is the zero kind. A well-formed graph never contains it.
	KindInvalid Kind = iota
	// KindPlaceholder is an input to the graph.
	KindPlaceholder
	// KindCall applies a named operation to its arguments.
	KindCall
	// KindOutput returns the value of its single argument.
	KindOutput
)

// String representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPlaceholder:
		return "placeholder"
	case KindCall:
		return "call"
	case KindOutput:
		return "output"
	}
	return "invalid"
}

type (
	// Arg is an argument of a node: either a reference to an earlier
	// node or a literal value.
	Arg interface {
		fmt.Stringer
		arg()
	}

	// NodeRef is an argument referencing another node of the same graph.
	NodeRef struct {
		node *Node
	}

	// String is a literal string argument (such as an einsum equation).
	String string

	// Int is a literal integer argument.
	Int int

	// Ints is a literal list of integers (axes or a permutation).
	Ints []int
)

// Ref returns an argument referencing node n.
func Ref(n *Node) NodeRef { return NodeRef{node: n} }

// Node returns the node being referenced.
func (a NodeRef) Node() *Node { return a.node }

func (a NodeRef) String() string { return "%" + a.node.name }

func (a String) String() string { return strconv.Quote(string(a)) }

func (a Int) String() string { return strconv.Itoa(int(a)) }

func (a Ints) String() string {
	elts := make([]string, len(a))
	for i, v := range a {
		elts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(elts, " ") + "]"
}

func (NodeRef) arg() {}
func (String) arg()  {}
func (Int) arg()     {}
func (Ints) arg()    {}

// Node is one operation or value in a graph. Nodes are created by the
// graph builder methods and are immutable except for their shape
// annotation, which an external shape oracle may attach.
type Node struct {
	graph  *Graph
	id     int
	name   string
	kind   Kind
	target string
	args   []Arg
	shape  *shape.Shape
}

// ID of the node. IDs are assigned at append time and are stable and
// unique within one graph.
func (n *Node) ID() int { return n.id }

// Name of the node, unique within its graph.
func (n *Node) Name() string { return n.name }

// Kind of the node.
func (n *Node) Kind() Kind { return n.kind }

// Target is the operation name for call nodes, empty otherwise.
func (n *Node) Target() string { return n.target }

// Args returns the arguments of the node.
// The returned slice is owned by the node and must not be modified.
func (n *Node) Args() []Arg { return n.args }

// Inputs returns the nodes referenced by the arguments, in argument order.
func (n *Node) Inputs() []*Node {
	var ins []*Node
	for _, arg := range n.args {
		if ref, ok := arg.(NodeRef); ok {
			ins = append(ins, ref.node)
		}
	}
	return ins
}

// Shape returns the shape annotation of the node or nil if the node
// has not been annotated.
func (n *Node) Shape() *shape.Shape { return n.shape }

// SetShape attaches a shape annotation to the node.
func (n *Node) SetShape(sh *shape.Shape) { n.shape = sh }

// String returns the single-line textual form of the node.
func (n *Node) String() string {
	bld := strings.Builder{}
	switch n.kind {
	case KindOutput:
		bld.WriteString("return")
		for _, arg := range n.args {
			bld.WriteString(" " + arg.String())
		}
		return bld.String()
	case KindPlaceholder:
		bld.WriteString("%" + n.name + " = placeholder")
	case KindCall:
		args := make([]string, len(n.args))
		for i, arg := range n.args {
			args[i] = arg.String()
		}
		bld.WriteString("%" + n.name + " = " + n.target + "(" + strings.Join(args, ", ") + ")")
	default:
		bld.WriteString("%" + n.name + " = <invalid>")
	}
	if n.shape != nil {
		bld.WriteString(" : " + Ints(n.shape.AxisLengths).String())
	}
	return bld.String()
}
