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

// Package opteinsum parses einsum equations, searches an optimal
// contraction order for their operands and expands the winning order
// into a sequence of elementary contractions.
package opteinsum

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Shape is the list of axis lengths of one operand.
type Shape = []int

// Equation is a parsed einsum index-string.
type Equation struct {
	// Inputs are the index labels of each operand.
	Inputs [][]rune
	// Output are the index labels of the result.
	Output []rune
}

func isLabel(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Parse splits an einsum equation into per-operand and output labels.
// An equation without "->" uses the implicit output convention: every
// label appearing exactly once, in alphabetical order. Ellipses are not
// supported.
func Parse(equation string, numOperands int) (*Equation, error) {
	spec := strings.ReplaceAll(equation, " ", "")
	lhs, rhs, explicit := strings.Cut(spec, "->")
	terms := strings.Split(lhs, ",")
	if len(terms) != numOperands {
		return nil, errors.Errorf("equation %q specifies %d operands but %d were given", equation, len(terms), numOperands)
	}
	eq := &Equation{Inputs: make([][]rune, len(terms))}
	counts := map[rune]int{}
	for i, term := range terms {
		for _, r := range term {
			if !isLabel(r) {
				return nil, errors.Errorf("equation %q: invalid index label %q", equation, r)
			}
			counts[r]++
		}
		eq.Inputs[i] = []rune(term)
	}
	if !explicit {
		once := []rune{}
		for r, n := range counts {
			if n == 1 {
				once = append(once, r)
			}
		}
		sort.Slice(once, func(i, j int) bool { return once[i] < once[j] })
		eq.Output = once
		return eq, nil
	}
	seen := map[rune]bool{}
	for _, r := range rhs {
		if !isLabel(r) {
			return nil, errors.Errorf("equation %q: invalid output label %q", equation, r)
		}
		if counts[r] == 0 {
			return nil, errors.Errorf("equation %q: output label %q does not appear in any operand", equation, r)
		}
		if seen[r] {
			return nil, errors.Errorf("equation %q: output label %q repeated", equation, r)
		}
		seen[r] = true
	}
	eq.Output = []rune(rhs)
	return eq, nil
}

// String rebuilds the canonical explicit form of the equation.
func (eq *Equation) String() string {
	terms := make([]string, len(eq.Inputs))
	for i, in := range eq.Inputs {
		terms[i] = string(in)
	}
	return strings.Join(terms, ",") + "->" + string(eq.Output)
}

// Sizes maps every label to its axis length, checking that shapes agree
// with the equation and with each other.
func (eq *Equation) Sizes(shapes []Shape) (map[rune]int, error) {
	if len(shapes) != len(eq.Inputs) {
		return nil, errors.Errorf("equation %s: got %d shapes for %d operands", eq, len(shapes), len(eq.Inputs))
	}
	dims := map[rune]int{}
	for i, labels := range eq.Inputs {
		if len(labels) != len(shapes[i]) {
			return nil, errors.Errorf("equation %s: operand %d has rank %d but its term %q has %d labels",
				eq, i, len(shapes[i]), string(labels), len(labels))
		}
		for axis, r := range labels {
			dim := shapes[i][axis]
			if prev, ok := dims[r]; ok && prev != dim {
				return nil, errors.Errorf("equation %s: label %q has conflicting sizes %d and %d", eq, r, prev, dim)
			}
			dims[r] = dim
		}
	}
	return dims, nil
}

// sortedLabels returns the keys of a label set in alphabetical order.
func sortedLabels[V any](set map[rune]V) []rune {
	labels := maps.Keys(set)
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
