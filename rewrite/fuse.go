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

package rewrite

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/mister-bailey/opt-einsum-fx/graph"
	"github.com/mister-bailey/opt-einsum-fx/opteinsum"
)

const labelAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Fuse merges einsum call-sites: when the result of an einsum is consumed
// by exactly one node and that node is itself an einsum using it as an
// operand, the producer is inlined into the consumer, eliminating the
// intermediate result. The producer's labels are renamed into the
// consumer's equation: output labels take the labels of the operand they
// replace, the rest get fresh labels. All other nodes are copied
// unchanged. Fusion needs no shape information.
func Fuse(src *graph.Graph) (*graph.Graph, error) {
	f := &fuser{
		out:     graph.New(),
		env:     map[int]*graph.Node{},
		users:   map[int][]*graph.Node{},
		pending: map[int]*fuseSite{},
	}
	for node := range src.Nodes() {
		for _, in := range node.Inputs() {
			f.users[in.ID()] = append(f.users[in.ID()], node)
		}
	}
	for node := range src.Nodes() {
		if err := f.visit(node); err != nil {
			return nil, err
		}
	}
	if err := f.out.Lint(); err != nil {
		return nil, errors.Wrap(err, "fusion produced an inconsistent graph")
	}
	return f.out, nil
}

// fuseSite is an einsum call-site held back from emission, or about to be
// emitted with other sites inlined into it.
type fuseSite struct {
	node     *graph.Node
	eq       *opteinsum.Equation
	operands []*graph.Node
	fused    bool
}

type fuser struct {
	out   *graph.Graph
	env   map[int]*graph.Node
	users map[int][]*graph.Node
	// pending holds fusible einsum sites by source node ID until their
	// single consumer inlines them.
	pending map[int]*fuseSite
}

func (f *fuser) visit(node *graph.Node) error {
	if site := f.parseSite(node); site != nil {
		if err := f.inline(site); err != nil {
			return err
		}
		if f.fusible(node) {
			f.pending[node.ID()] = site
			return nil
		}
		if site.fused {
			_, err := f.emit(site)
			return err
		}
	}
	copied, err := f.out.Copy(node, f.lookup)
	if err != nil {
		return err
	}
	f.env[node.ID()] = copied
	return nil
}

func (f *fuser) lookup(n *graph.Node) (*graph.Node, error) {
	mapped, ok := f.env[n.ID()]
	if !ok {
		return nil, errors.Errorf("node %%%s has not been processed yet", n.Name())
	}
	return mapped, nil
}

// parseSite returns the einsum site of a node or nil if the node is not
// an einsum call following the call convention.
func (f *fuser) parseSite(node *graph.Node) *fuseSite {
	if !IsEinsum(node) {
		return nil
	}
	args := node.Args()
	if len(args) < 2 {
		return nil
	}
	equation, ok := args[0].(graph.String)
	if !ok {
		return nil
	}
	operands := make([]*graph.Node, 0, len(args)-1)
	for _, arg := range args[1:] {
		ref, ok := arg.(graph.NodeRef)
		if !ok {
			return nil
		}
		operands = append(operands, ref.Node())
	}
	eq, err := opteinsum.Parse(string(equation), len(operands))
	if err != nil {
		// Leave malformed equations alone; the rewrite pass surfaces
		// the error with the full call-site context.
		return nil
	}
	return &fuseSite{node: node, eq: eq, operands: operands}
}

// fusible reports whether a site can be held back: its value must have
// exactly one use, by an einsum call-site that can absorb it.
func (f *fuser) fusible(node *graph.Node) bool {
	users := f.users[node.ID()]
	if len(users) != 1 {
		return false
	}
	return f.parseSite(users[0]) != nil
}

// inline splices every pending operand of the site into the site itself.
// A splice that cannot be expressed (out of labels) materializes the
// pending producer instead.
func (f *fuser) inline(site *fuseSite) error {
	for again := true; again; {
		again = false
		for i, operand := range site.operands {
			inner, ok := f.pending[operand.ID()]
			if !ok {
				continue
			}
			delete(f.pending, operand.ID())
			if splice(site, i, inner) {
				again = true
				break
			}
			emitted, err := f.emit(inner)
			if err != nil {
				return err
			}
			f.env[operand.ID()] = emitted
		}
	}
	return nil
}

// emit appends the call node of a site to the output graph.
func (f *fuser) emit(site *fuseSite) (*graph.Node, error) {
	equation := site.eq.String()
	if !site.fused {
		equation = string(site.node.Args()[0].(graph.String))
	}
	args := make([]graph.Arg, 0, len(site.operands)+1)
	args = append(args, graph.String(equation))
	for _, operand := range site.operands {
		mapped, err := f.lookup(operand)
		if err != nil {
			return nil, err
		}
		args = append(args, graph.Ref(mapped))
	}
	emitted := f.out.CallAs(site.node.Name(), site.node.Target(), args...)
	emitted.SetShape(site.node.Shape())
	f.env[site.node.ID()] = emitted
	return emitted, nil
}

// splice replaces operand i of the outer site with the operands of the
// inner site, renaming the inner labels into the outer equation. Reports
// whether the fusion was expressible.
func splice(outer *fuseSite, i int, inner *fuseSite) bool {
	outerTerm := outer.eq.Inputs[i]
	if len(inner.eq.Output) != len(outerTerm) {
		return false
	}
	used := map[rune]bool{}
	for _, term := range outer.eq.Inputs {
		for _, r := range term {
			used[r] = true
		}
	}
	for _, r := range outer.eq.Output {
		used[r] = true
	}
	rename := map[rune]rune{}
	for k, r := range inner.eq.Output {
		rename[r] = outerTerm[k]
	}
	for _, term := range inner.eq.Inputs {
		for _, r := range term {
			if _, ok := rename[r]; ok {
				continue
			}
			fresh, ok := freshLabel(used)
			if !ok {
				return false
			}
			rename[r] = fresh
		}
	}
	renamed := make([][]rune, len(inner.eq.Inputs))
	for j, term := range inner.eq.Inputs {
		renamed[j] = make([]rune, len(term))
		for k, r := range term {
			renamed[j][k] = rename[r]
		}
	}
	outer.eq.Inputs = slices.Replace(slices.Clone(outer.eq.Inputs), i, i+1, renamed...)
	outer.operands = slices.Replace(slices.Clone(outer.operands), i, i+1, inner.operands...)
	outer.fused = true
	return true
}

func freshLabel(used map[rune]bool) (rune, bool) {
	for _, r := range labelAlphabet {
		if !used[r] {
			used[r] = true
			return r, true
		}
	}
	return 0, false
}
