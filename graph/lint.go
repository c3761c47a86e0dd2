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
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Lint validates the structural consistency of the graph: every reference
// resolves to an earlier node of the same graph, placeholders take no
// arguments, and the graph ends with exactly one output node. All faults
// are accumulated and reported together.
func (g *Graph) Lint() error {
	var errs error
	add := func(err error) {
		errs = multierr.Append(errs, err)
	}
	outputs := 0
	for i, n := range g.nodes {
		switch n.kind {
		case KindPlaceholder:
			if len(n.args) > 0 {
				add(errors.Errorf("placeholder %%%s has arguments", n.name))
			}
		case KindCall:
			if n.target == "" {
				add(errors.Errorf("call node %%%s has no target", n.name))
			}
		case KindOutput:
			outputs++
			if i != len(g.nodes)-1 {
				add(errors.Errorf("output node at position %d is not the last node", i))
			}
			if len(n.args) != 1 {
				add(errors.Errorf("output node has %d arguments, want 1", len(n.args)))
			}
		default:
			add(errors.Errorf("node %%%s has invalid kind", n.name))
		}
		for _, arg := range n.args {
			ref, ok := arg.(NodeRef)
			if !ok {
				continue
			}
			switch {
			case ref.node == nil:
				add(errors.Errorf("node %%%s references a nil node", n.name))
			case ref.node.graph != g:
				add(errors.Errorf("node %%%s references %%%s which belongs to a different graph", n.name, ref.node.name))
			case ref.node.id >= n.id:
				add(errors.Errorf("node %%%s references %%%s which does not precede it", n.name, ref.node.name))
			}
		}
	}
	if outputs != 1 {
		add(errors.Errorf("graph has %d output nodes, want 1", outputs))
	}
	return errs
}
