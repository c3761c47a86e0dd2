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

package opteinsum

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Contraction is one elementary step of a contraction list. Each step
// consumes the operands at Positions in the working operand list and
// appends its result at the end.
type Contraction struct {
	// Positions of the consumed operands, ascending.
	Positions []int
	// Removed lists the labels summed away by this step, sorted.
	Removed []rune
	// Equation of the step on its own operands.
	Equation string
	// CanTensordot reports whether the step is a pure binary contraction
	// that lowers to a tensordot followed by an optional transpose.
	CanTensordot bool
	// Axes to contract in each operand when CanTensordot.
	Axes [2][]int
	// Perm reorders the natural tensordot result into the step output.
	// nil when the natural order already matches.
	Perm []int
}

// Builder creates the elementary operations a contraction list expands
// into. T is an opaque operand handle: a concrete tensor for an eager
// builder, a graph node for a symbolic one. Implementations append or
// execute one operation per call and return the handle of its result.
type Builder[T any] interface {
	// Einsum evaluates a single einsum step.
	Einsum(equation string, operands ...T) (T, error)
	// Tensordot contracts the paired axes of x and y. The result axes are
	// the remaining axes of x followed by the remaining axes of y.
	Tensordot(x, y T, axes [2][]int) (T, error)
	// Transpose permutes the axes of x: axis i of the result is axis
	// perm[i] of x.
	Transpose(x T, perm []int) (T, error)
}

// Contract replays a contraction list over the operands, building every
// elementary step through b. No intermediate value is materialized here;
// the builder alone decides what a step result is.
func Contract[T any](operands []T, contractions []Contraction, b Builder[T]) (T, error) {
	var zero T
	working := slices.Clone(operands)
	for _, c := range contractions {
		xs := make([]T, len(c.Positions))
		for i, p := range c.Positions {
			if p < 0 || p >= len(working) {
				return zero, errors.Errorf("contraction position %d out of range for %d operands", p, len(working))
			}
			xs[i] = working[p]
		}
		for i := len(c.Positions) - 1; i >= 0; i-- {
			working = slices.Delete(working, c.Positions[i], c.Positions[i]+1)
		}
		var result T
		var err error
		if c.CanTensordot {
			result, err = b.Tensordot(xs[0], xs[1], c.Axes)
			if err == nil && c.Perm != nil {
				result, err = b.Transpose(result, c.Perm)
			}
		} else {
			result, err = b.Einsum(c.Equation, xs...)
		}
		if err != nil {
			return zero, err
		}
		working = append(working, result)
	}
	if len(working) != 1 {
		return zero, errors.Errorf("contraction list leaves %d operands, want 1", len(working))
	}
	return working[0], nil
}

// buildContractions expands a contraction path into elementary steps with
// their lowering precomputed.
func buildContractions(eq *Equation, path [][]int, dims map[rune]int) ([]Contraction, error) {
	if err := checkPath(path, len(eq.Inputs)); err != nil {
		return nil, err
	}
	output := labelSet(eq.Output)
	working := make([][]rune, len(eq.Inputs))
	for i, in := range eq.Inputs {
		working[i] = slices.Clone(in)
	}
	contractions := make([]Contraction, len(path))
	for stepIndex, positions := range path {
		last := stepIndex == len(path)-1
		positions = slices.Clone(positions)
		slices.Sort(positions)
		terms := make([][]rune, len(positions))
		for i, p := range positions {
			terms[i] = working[p]
		}
		rest := make([]labels, 0, len(working)-len(positions))
		for p, term := range working {
			if !slices.Contains(positions, p) {
				rest = append(rest, labelSet(term))
			}
		}
		keep, removed := splitKept(terms, rest, output)
		var out []rune
		if last {
			out = eq.Output
		} else {
			out = sortedLabels(keep)
		}
		c := Contraction{
			Positions: positions,
			Removed:   sortedLabels(removed),
			Equation:  stepEquation(terms, out),
		}
		c.CanTensordot, c.Axes, c.Perm = lowerTensordot(terms, out, removed)
		contractions[stepIndex] = c
		for i := len(positions) - 1; i >= 0; i-- {
			working = slices.Delete(working, positions[i], positions[i]+1)
		}
		working = append(working, out)
	}
	return contractions, nil
}

// splitKept partitions the labels of the contracted terms into those kept
// in the step result and those summed away. A label is kept if the final
// output or any untouched operand still needs it.
func splitKept(terms [][]rune, rest []labels, output labels) (keep, removed labels) {
	keep, removed = labels{}, labels{}
	for _, term := range terms {
		for _, r := range term {
			if keep[r] || removed[r] {
				continue
			}
			kept := output[r]
			for _, other := range rest {
				if other[r] {
					kept = true
					break
				}
			}
			if kept {
				keep[r] = true
			} else {
				removed[r] = true
			}
		}
	}
	return keep, removed
}

func stepEquation(terms [][]rune, out []rune) string {
	strs := make([]string, len(terms))
	for i, term := range terms {
		strs[i] = string(term)
	}
	return strings.Join(strs, ",") + "->" + string(out)
}

// lowerTensordot decides whether a step is expressible as a tensordot:
// exactly two operands, no label repeated within an operand, and the
// summed labels exactly the labels shared by both operands. The natural
// tensordot output is the remaining x axes followed by the remaining y
// axes; perm reorders it into the step output when needed.
func lowerTensordot(terms [][]rune, out []rune, removed labels) (bool, [2][]int, []int) {
	var axes [2][]int
	if len(terms) != 2 {
		return false, axes, nil
	}
	x, y := terms[0], terms[1]
	xSet, ySet := labelSet(x), labelSet(y)
	if len(xSet) != len(x) || len(ySet) != len(y) {
		return false, axes, nil
	}
	shared := labels{}
	for r := range xSet {
		if ySet[r] {
			shared[r] = true
		}
	}
	if len(shared) != len(removed) {
		return false, axes, nil
	}
	for _, r := range sortedLabels(removed) {
		if !shared[r] {
			return false, axes, nil
		}
		axes[0] = append(axes[0], slices.Index(x, r))
		axes[1] = append(axes[1], slices.Index(y, r))
	}
	var natural []rune
	for _, r := range x {
		if !removed[r] {
			natural = append(natural, r)
		}
	}
	for _, r := range y {
		if !removed[r] {
			natural = append(natural, r)
		}
	}
	if slices.Equal(natural, out) {
		return true, axes, nil
	}
	perm := make([]int, len(out))
	for i, r := range out {
		perm[i] = slices.Index(natural, r)
	}
	return true, axes, perm
}
