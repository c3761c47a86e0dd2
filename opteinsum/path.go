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
	"math"

	"github.com/pkg/errors"
)

// DefaultOptimalLimit is the largest number of operands for which the
// exhaustive optimal search is used. Beyond it the greedy heuristic takes
// over to keep the search polynomial.
const DefaultOptimalLimit = 6

type config struct {
	optimalLimit int
}

// Option configures the contraction path search.
type Option func(*config)

// WithOptimalLimit sets the operand count up to which the exhaustive
// optimal search is used instead of the greedy heuristic.
func WithOptimalLimit(n int) Option {
	return func(cfg *config) {
		cfg.optimalLimit = n
	}
}

// Info describes an optimized contraction order for one einsum.
type Info struct {
	// Equation in canonical explicit form.
	Equation string
	// Path lists, for each step, the positions contracted in the working
	// operand list. Contracted operands are removed and the step result is
	// appended at the end of the list.
	Path [][]int
	// Contractions is the expansion of Path into elementary steps.
	Contractions []Contraction
	// NaiveFlops estimates the cost of evaluating the equation in a
	// single pass over all operands.
	NaiveFlops float64
	// OptimizedFlops estimates the cost of evaluating the path.
	OptimizedFlops float64
}

// Speedup of the optimized path over the naive evaluation.
func (info *Info) Speedup() float64 {
	if info.OptimizedFlops == 0 {
		return 1
	}
	return info.NaiveFlops / info.OptimizedFlops
}

// ContractPath parses an einsum equation, validates it against the operand
// shapes and returns an optimized contraction order: an exhaustive search
// over all pairwise orders when the operand count is small, a greedy
// cheapest-pair heuristic otherwise.
func ContractPath(equation string, shapes []Shape, opts ...Option) (*Info, error) {
	cfg := config{optimalLimit: DefaultOptimalLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	eq, err := Parse(equation, len(shapes))
	if err != nil {
		return nil, err
	}
	dims, err := eq.Sizes(shapes)
	if err != nil {
		return nil, err
	}
	terms := make([]labels, len(eq.Inputs))
	for i, in := range eq.Inputs {
		terms[i] = labelSet(in)
	}
	output := labelSet(eq.Output)
	var path [][]int
	switch {
	case len(terms) == 1:
		path = [][]int{{0}}
	case len(terms) <= cfg.optimalLimit:
		path, _ = optimalPath(terms, output, dims)
	default:
		path = greedyPath(terms, output, dims)
	}
	contractions, err := buildContractions(eq, path, dims)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Equation:       eq.String(),
		Path:           path,
		Contractions:   contractions,
		NaiveFlops:     naiveFlops(eq, dims),
		OptimizedFlops: pathFlops(terms, output, dims, path),
	}
	return info, nil
}

// labels is a set of index labels.
type labels map[rune]bool

func labelSet(rs []rune) labels {
	set := labels{}
	for _, r := range rs {
		set[r] = true
	}
	return set
}

func union(a, b labels) labels {
	u := labels{}
	for r := range a {
		u[r] = true
	}
	for r := range b {
		u[r] = true
	}
	return u
}

func product(set labels, dims map[rune]int) float64 {
	p := 1.0
	for r := range set {
		p *= float64(dims[r])
	}
	return p
}

// contractPair returns the labels kept when contracting the terms at
// positions i and j, given the other remaining terms and the final output.
func contractPair(terms []labels, i, j int, output labels) (keep, removed labels) {
	u := union(terms[i], terms[j])
	keep, removed = labels{}, labels{}
	for r := range u {
		kept := output[r]
		for k, term := range terms {
			if k == i || k == j {
				continue
			}
			if term[r] {
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
	return keep, removed
}

// stepCost estimates the floating point operations of one pairwise
// contraction: the size of the full iteration space, doubled when the
// step sums labels away.
func stepCost(a, b, removed labels, dims map[rune]int) float64 {
	cost := product(union(a, b), dims)
	if len(removed) > 0 {
		cost *= 2
	}
	return cost
}

func naiveFlops(eq *Equation, dims map[rune]int) float64 {
	all := labels{}
	for _, in := range eq.Inputs {
		for r := range labelSet(in) {
			all[r] = true
		}
	}
	factor := float64(len(eq.Inputs) - 1)
	if factor < 1 {
		factor = 1
	}
	if len(all) > len(eq.Output) {
		factor++
	}
	return product(all, dims) * factor
}

func pathFlops(terms []labels, output labels, dims map[rune]int, path [][]int) float64 {
	working := append([]labels{}, terms...)
	total := 0.0
	for _, positions := range path {
		if len(positions) != 2 {
			// Single-operand reduction.
			term := working[positions[0]]
			total += product(term, dims)
			continue
		}
		i, j := positions[0], positions[1]
		keep, removed := contractPair(working, i, j, output)
		total += stepCost(working[i], working[j], removed, dims)
		working = removeAt(working, j)
		working = removeAt(working, i)
		working = append(working, keep)
	}
	return total
}

func removeAt(terms []labels, i int) []labels {
	out := make([]labels, 0, len(terms)-1)
	out = append(out, terms[:i]...)
	return append(out, terms[i+1:]...)
}

// optimalPath exhaustively searches all pairwise contraction orders,
// pruning branches that already exceed the best cost found so far.
func optimalPath(terms []labels, output labels, dims map[rune]int) ([][]int, float64) {
	best := math.Inf(1)
	var bestPath [][]int
	var search func(working []labels, cost float64, path [][]int)
	search = func(working []labels, cost float64, path [][]int) {
		if len(working) == 1 {
			if cost < best {
				best = cost
				bestPath = append([][]int{}, path...)
			}
			return
		}
		for i := 0; i < len(working); i++ {
			for j := i + 1; j < len(working); j++ {
				keep, removed := contractPair(working, i, j, output)
				next := cost + stepCost(working[i], working[j], removed, dims)
				if next >= best {
					continue
				}
				reduced := removeAt(working, j)
				reduced = removeAt(reduced, i)
				reduced = append(reduced, keep)
				search(reduced, next, append(path, []int{i, j}))
			}
		}
	}
	search(terms, 0, nil)
	return bestPath, best
}

// greedyPath repeatedly contracts the cheapest pair.
func greedyPath(terms []labels, output labels, dims map[rune]int) [][]int {
	working := append([]labels{}, terms...)
	var path [][]int
	for len(working) > 1 {
		bestCost := math.Inf(1)
		bi, bj := 0, 1
		var bestKeep labels
		for i := 0; i < len(working); i++ {
			for j := i + 1; j < len(working); j++ {
				keep, removed := contractPair(working, i, j, output)
				cost := stepCost(working[i], working[j], removed, dims)
				if cost < bestCost {
					bestCost, bi, bj, bestKeep = cost, i, j, keep
				}
			}
		}
		path = append(path, []int{bi, bj})
		working = removeAt(working, bj)
		working = removeAt(working, bi)
		working = append(working, bestKeep)
	}
	return path
}

// checkPath validates that a path visits every operand exactly once.
func checkPath(path [][]int, numOperands int) error {
	remaining := numOperands
	for _, positions := range path {
		for _, p := range positions {
			if p < 0 || p >= remaining {
				return errors.Errorf("contraction path step %v out of range for %d operands", positions, remaining)
			}
		}
		remaining -= len(positions) - 1
	}
	if remaining != 1 {
		return errors.Errorf("contraction path leaves %d operands", remaining)
	}
	return nil
}
