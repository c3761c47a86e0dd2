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

// Package graph implements the computation graph rewritten by this module:
// an append-only, topologically ordered sequence of nodes where edges are
// implicit through node-valued arguments.
package graph

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Graph is an ordered sequence of nodes. Nodes only ever reference nodes
// appended before them, so the sequence order is a topological order.
// Graphs are built through Placeholder, Call and Output and are never
// mutated in place.
type Graph struct {
	nodes []*Node
	names map[string]bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{names: make(map[string]bool)}
}

func (g *Graph) append(kind Kind, name, target string, args []Arg) *Node {
	n := &Node{
		graph:  g,
		id:     len(g.nodes),
		name:   g.uniqueName(name),
		kind:   kind,
		target: target,
		args:   args,
	}
	g.names[n.name] = true
	g.nodes = append(g.nodes, n)
	return n
}

func (g *Graph) uniqueName(base string) string {
	if base == "" {
		base = "node"
	}
	if !g.names[base] {
		return base
	}
	for i := 1; ; i++ {
		name := base + "_" + strconv.Itoa(i)
		if !g.names[name] {
			return name
		}
	}
}

// Placeholder appends an input node.
func (g *Graph) Placeholder(name string) *Node {
	return g.append(KindPlaceholder, name, "", nil)
}

// Call appends a call node applying target to args.
// The node is named after its target.
func (g *Graph) Call(target string, args ...Arg) *Node {
	return g.append(KindCall, target, target, args)
}

// CallAs appends a call node with an explicit name. It is used when
// reconstructing a graph whose node names must be preserved, for example
// when decoding a serialized graph.
func (g *Graph) CallAs(name, target string, args ...Arg) *Node {
	return g.append(KindCall, name, target, args)
}

// Output appends the return node of the graph.
func (g *Graph) Output(n *Node) *Node {
	return g.append(KindOutput, "output", "", []Arg{Ref(n)})
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns an iterator over the nodes in topological order.
func (g *Graph) Nodes() func(func(*Node) bool) {
	return func(yield func(*Node) bool) {
		for _, n := range g.nodes {
			if !yield(n) {
				break
			}
		}
	}
}

// Find returns the node with the given name or nil.
func (g *Graph) Find(name string) *Node {
	for _, n := range g.nodes {
		if n.name == name {
			return n
		}
	}
	return nil
}

// Result returns the output node of the graph or nil if the graph has none.
func (g *Graph) Result() *Node {
	if len(g.nodes) == 0 {
		return nil
	}
	last := g.nodes[len(g.nodes)-1]
	if last.kind != KindOutput {
		return nil
	}
	return last
}

// Copy appends a copy of a node from another graph, remapping every
// node-valued argument through remap. The copied node keeps its name
// (uniquified on collision) and its shape annotation.
func (g *Graph) Copy(n *Node, remap func(*Node) (*Node, error)) (*Node, error) {
	args := make([]Arg, len(n.args))
	for i, arg := range n.args {
		ref, ok := arg.(NodeRef)
		if !ok {
			args[i] = arg
			continue
		}
		mapped, err := remap(ref.node)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot copy node %s", n.String())
		}
		args[i] = Ref(mapped)
	}
	copied := g.append(n.kind, n.name, n.target, args)
	copied.shape = n.shape
	return copied, nil
}

// String returns the textual form of the graph, one node per line.
func (g *Graph) String() string {
	lines := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		lines[i] = n.String()
	}
	return strings.Join(lines, "\n") + "\n"
}
