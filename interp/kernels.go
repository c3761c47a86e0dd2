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

package interp

import (
	"slices"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/mister-bailey/opt-einsum-fx/opteinsum"
)

// Kernels evaluates elementary tensor operations eagerly over dense
// float64 tensors. It is the eager counterpart of the symbolic builder
// used by the rewrite pass, so a contraction list replayed through it
// computes the same value the expanded graph will.
type Kernels struct{}

var _ opteinsum.Builder[*tensor.Dense] = Kernels{}

const tensordotLabels = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// floats returns the backing data of a tensor as a float64 slice. Rank-0
// tensors back their single value directly.
func floats(t *tensor.Dense) ([]float64, error) {
	switch data := t.Data().(type) {
	case []float64:
		return data, nil
	case float64:
		return []float64{data}, nil
	}
	return nil, errors.Errorf("tensor holds %T, want float64 data", t.Data())
}

// strides returns the row-major strides of a shape.
func strides(dims []int) []int {
	out := make([]int, len(dims))
	acc := 1
	for i := len(dims) - 1; i >= 0; i-- {
		out[i] = acc
		acc *= dims[i]
	}
	return out
}

func size(dims []int) int {
	total := 1
	for _, d := range dims {
		total *= d
	}
	return total
}

func fromValues(dims []int, data []float64) *tensor.Dense {
	if len(dims) == 0 {
		return tensor.New(tensor.FromScalar(data[0]))
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data))
}

// Einsum evaluates an einsum equation over the operands.
func (Kernels) Einsum(equation string, operands ...*tensor.Dense) (*tensor.Dense, error) {
	eq, err := opteinsum.Parse(equation, len(operands))
	if err != nil {
		return nil, err
	}
	shapes := make([]opteinsum.Shape, len(operands))
	for i, op := range operands {
		shapes[i] = []int(op.Shape())
	}
	dims, err := eq.Sizes(shapes)
	if err != nil {
		return nil, err
	}
	if isMatMul(eq) {
		prod, err := tensor.MatMul(operands[0], operands[1])
		if err != nil {
			return nil, errors.Wrapf(err, "einsum %q", equation)
		}
		return prod.(*tensor.Dense), nil
	}
	return sumProduct(eq, dims, operands)
}

// isMatMul reports whether an equation is exactly a matrix product,
// which has a fast dedicated kernel.
func isMatMul(eq *opteinsum.Equation) bool {
	if len(eq.Inputs) != 2 || len(eq.Output) != 2 {
		return false
	}
	x, y := eq.Inputs[0], eq.Inputs[1]
	if len(x) != 2 || len(y) != 2 {
		return false
	}
	a, b, c := x[0], x[1], y[1]
	if y[0] != b || a == b || b == c || a == c {
		return false
	}
	return eq.Output[0] == a && eq.Output[1] == c
}

// sumProduct is the general einsum kernel. It walks the full index space
// of the equation, output labels first; each operand contributes the sum
// of its strides for every axis carrying a given label, so repeated
// labels within an operand walk its diagonal.
func sumProduct(eq *opteinsum.Equation, dims map[rune]int, operands []*tensor.Dense) (*tensor.Dense, error) {
	all := slices.Clone(eq.Output)
	summed := []rune{}
	for r := range dims {
		if !slices.Contains(eq.Output, r) {
			summed = append(summed, r)
		}
	}
	slices.Sort(summed)
	all = append(all, summed...)

	allDims := make([]int, len(all))
	for i, r := range all {
		allDims[i] = dims[r]
	}
	outDims := make([]int, len(eq.Output))
	for i, r := range eq.Output {
		outDims[i] = dims[r]
	}

	// contribs[op][k] is how much stepping label all[k] moves operand op.
	contribs := make([][]int, len(operands))
	datas := make([][]float64, len(operands))
	for op, operand := range operands {
		opStrides := strides([]int(operand.Shape()))
		contrib := make([]int, len(all))
		for axis, r := range eq.Inputs[op] {
			contrib[slices.Index(all, r)] += opStrides[axis]
		}
		contribs[op] = contrib
		data, err := floats(operand)
		if err != nil {
			return nil, err
		}
		datas[op] = data
	}

	totalSize := size(allDims)
	outSize := size(outDims)
	sumSize := totalSize / outSize
	result := make([]float64, outSize)
	coords := make([]int, len(all))
	for flat := 0; flat < totalSize; flat++ {
		rem := flat
		for k := len(all) - 1; k >= 0; k-- {
			coords[k] = rem % allDims[k]
			rem /= allDims[k]
		}
		prod := 1.0
		for op := range operands {
			offset := 0
			for k, c := range coords {
				offset += c * contribs[op][k]
			}
			prod *= datas[op][offset]
		}
		result[flat/sumSize] += prod
	}
	return fromValues(outDims, result), nil
}

// Tensordot contracts the paired axes of x and y, producing the
// remaining x axes followed by the remaining y axes. It synthesizes the
// equivalent einsum equation and evaluates it.
func (k Kernels) Tensordot(x, y *tensor.Dense, axes [2][]int) (*tensor.Dense, error) {
	if len(axes[0]) != len(axes[1]) {
		return nil, errors.Errorf("tensordot axes have mismatched lengths %d and %d", len(axes[0]), len(axes[1]))
	}
	xRank, yRank := x.Shape().Dims(), y.Shape().Dims()
	if xRank+yRank > len(tensordotLabels) {
		return nil, errors.Errorf("tensordot operands have too many axes (%d)", xRank+yRank)
	}
	xTerm := make([]rune, xRank)
	for i := range xTerm {
		xTerm[i] = rune(tensordotLabels[i])
	}
	yTerm := make([]rune, yRank)
	next := xRank
	for i := range yTerm {
		if j := indexOf(axes[1], i); j >= 0 {
			yTerm[i] = xTerm[axes[0][j]]
			continue
		}
		yTerm[i] = rune(tensordotLabels[next])
		next++
	}
	out := []rune{}
	for i, r := range xTerm {
		if indexOf(axes[0], i) < 0 {
			out = append(out, r)
		}
	}
	for i, r := range yTerm {
		if indexOf(axes[1], i) < 0 {
			out = append(out, r)
		}
	}
	equation := string(xTerm) + "," + string(yTerm) + "->" + string(out)
	return k.Einsum(equation, x, y)
}

func indexOf(xs []int, x int) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}

// Transpose permutes the axes of x: axis i of the result is axis perm[i]
// of x.
func (Kernels) Transpose(x *tensor.Dense, perm []int) (*tensor.Dense, error) {
	dims := []int(x.Shape())
	if len(perm) != len(dims) {
		return nil, errors.Errorf("transpose permutation %v does not match rank %d", perm, len(dims))
	}
	seen := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return nil, errors.Errorf("transpose permutation %v is not a permutation", perm)
		}
		seen[p] = true
	}
	data, err := floats(x)
	if err != nil {
		return nil, err
	}
	outDims := make([]int, len(dims))
	for i, p := range perm {
		outDims[i] = dims[p]
	}
	srcStrides := strides(dims)
	result := make([]float64, size(outDims))
	coords := make([]int, len(outDims))
	for flat := range result {
		rem := flat
		for k := len(outDims) - 1; k >= 0; k-- {
			coords[k] = rem % outDims[k]
			rem /= outDims[k]
		}
		offset := 0
		for k, c := range coords {
			offset += c * srcStrides[perm[k]]
		}
		result[flat] = data[offset]
	}
	return fromValues(outDims, result), nil
}

// Narrow keeps length elements of one axis starting at start.
func (Kernels) Narrow(x *tensor.Dense, axis, start, length int) (*tensor.Dense, error) {
	dims := []int(x.Shape())
	if axis < 0 || axis >= len(dims) {
		return nil, errors.Errorf("narrow axis %d out of range for rank %d", axis, len(dims))
	}
	if start < 0 || length <= 0 || start+length > dims[axis] {
		return nil, errors.Errorf("narrow [%d:%d] out of range for axis of length %d", start, start+length, dims[axis])
	}
	args := make([]tensor.Slice, len(dims))
	args[axis] = tensor.S(start, start+length)
	view, err := x.Slice(args...)
	if err != nil {
		return nil, errors.Wrap(err, "narrow")
	}
	return view.Materialize().(*tensor.Dense), nil
}

// Index selects one position along an axis, dropping the axis.
func (k Kernels) Index(x *tensor.Dense, axis, i int) (*tensor.Dense, error) {
	narrowed, err := k.Narrow(x, axis, i, 1)
	if err != nil {
		return nil, err
	}
	dims := slices.Delete(slices.Clone([]int(x.Shape())), axis, axis+1)
	data, err := floats(narrowed)
	if err != nil {
		return nil, err
	}
	return fromValues(dims, data), nil
}

type scalarOp func(x, y float64) float64

// binary applies an elementwise operation with a scalar fast path,
// falling back to the array kernel for equal-shaped operands.
func binary(x, y *tensor.Dense, scalar scalarOp, array func(a, b interface{}, opts ...tensor.FuncOpt) (tensor.Tensor, error)) (*tensor.Dense, error) {
	if x.Shape().IsScalar() && y.Shape().IsScalar() {
		xs, err := floats(x)
		if err != nil {
			return nil, err
		}
		ys, err := floats(y)
		if err != nil {
			return nil, err
		}
		return fromValues(nil, []float64{scalar(xs[0], ys[0])}), nil
	}
	if !x.Shape().Eq(y.Shape()) {
		return nil, errors.Errorf("operand shapes %v and %v differ", x.Shape(), y.Shape())
	}
	out, err := array(x, y)
	if err != nil {
		return nil, err
	}
	return out.(*tensor.Dense), nil
}

// Add is the elementwise sum.
func (Kernels) Add(x, y *tensor.Dense) (*tensor.Dense, error) {
	return binary(x, y, func(a, b float64) float64 { return a + b }, tensor.Add)
}

// Sub is the elementwise difference.
func (Kernels) Sub(x, y *tensor.Dense) (*tensor.Dense, error) {
	return binary(x, y, func(a, b float64) float64 { return a - b }, tensor.Sub)
}

// Mul is the elementwise product.
func (Kernels) Mul(x, y *tensor.Dense) (*tensor.Dense, error) {
	return binary(x, y, func(a, b float64) float64 { return a * b }, tensor.Mul)
}
