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

package interp_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gorgonia.org/tensor"

	"github.com/mister-bailey/opt-einsum-fx/graph"
	"github.com/mister-bailey/opt-einsum-fx/interp"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func dense(dims []int, data []float64) *tensor.Dense {
	if len(dims) == 0 {
		return tensor.New(tensor.FromScalar(data[0]))
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data))
}

func TestEinsumKernel(t *testing.T) {
	tests := []struct {
		name     string
		equation string
		operands []*tensor.Dense
		wantDims []int
		want     []float64
	}{
		{
			name:     "matmul",
			equation: "ij,jk->ik",
			operands: []*tensor.Dense{
				dense([]int{2, 2}, []float64{1, 2, 3, 4}),
				dense([]int{2, 2}, []float64{5, 6, 7, 8}),
			},
			wantDims: []int{2, 2},
			want:     []float64{19, 22, 43, 50},
		},
		{
			name:     "trace",
			equation: "ii",
			operands: []*tensor.Dense{
				dense([]int{3, 3}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}),
			},
			wantDims: nil,
			want:     []float64{15},
		},
		{
			name:     "diagonal",
			equation: "ii->i",
			operands: []*tensor.Dense{
				dense([]int{3, 3}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}),
			},
			wantDims: []int{3},
			want:     []float64{1, 5, 9},
		},
		{
			name:     "outer product",
			equation: "i,j->ij",
			operands: []*tensor.Dense{
				dense([]int{2}, []float64{1, 2}),
				dense([]int{3}, []float64{3, 4, 5}),
			},
			wantDims: []int{2, 3},
			want:     []float64{3, 4, 5, 6, 8, 10},
		},
		{
			name:     "row sum",
			equation: "ij->i",
			operands: []*tensor.Dense{
				dense([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6}),
			},
			wantDims: []int{2},
			want:     []float64{6, 15},
		},
		{
			name:     "transpose via einsum",
			equation: "ij->ji",
			operands: []*tensor.Dense{
				dense([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6}),
			},
			wantDims: []int{3, 2},
			want:     []float64{1, 4, 2, 5, 3, 6},
		},
	}
	kernels := interp.Kernels{}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := kernels.Einsum(test.equation, test.operands...)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			want := dense(test.wantDims, test.want)
			if !want.Shape().Eq(got.Shape()) {
				t.Fatalf("shape %v, want %v", got.Shape(), want.Shape())
			}
			if diff := cmp.Diff(want.Data(), got.Data(), approx); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTensordot(t *testing.T) {
	kernels := interp.Kernels{}
	x := dense([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	y := dense([]int{3, 2}, []float64{7, 8, 9, 10, 11, 12})
	got, err := kernels.Tensordot(x, y, [2][]int{{1}, {0}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want, err := kernels.Einsum("ij,jk->ik", x, y)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(want.Data(), got.Data(), approx); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestTranspose(t *testing.T) {
	kernels := interp.Kernels{}
	x := dense([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	got, err := kernels.Transpose(x, []int{1, 0})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := dense([]int{3, 2}, []float64{1, 4, 2, 5, 3, 6})
	if !want.Shape().Eq(got.Shape()) {
		t.Fatalf("shape %v, want %v", got.Shape(), want.Shape())
	}
	if diff := cmp.Diff(want.Data(), got.Data(), approx); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
	if _, err := kernels.Transpose(x, []int{0, 0}); err == nil {
		t.Errorf("Transpose accepted a non-permutation")
	}
}

func TestNarrowAndIndex(t *testing.T) {
	kernels := interp.Kernels{}
	x := dense([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	narrowed, err := kernels.Narrow(x, 1, 1, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	wantNarrow := dense([]int{2, 2}, []float64{2, 3, 5, 6})
	if diff := cmp.Diff(wantNarrow.Data(), narrowed.Data(), approx); diff != "" {
		t.Errorf("narrow mismatch (-want +got):\n%s", diff)
	}
	row, err := kernels.Index(x, 0, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	wantRow := dense([]int{3}, []float64{4, 5, 6})
	if !wantRow.Shape().Eq(row.Shape()) {
		t.Fatalf("index shape %v, want %v", row.Shape(), wantRow.Shape())
	}
	if diff := cmp.Diff(wantRow.Data(), row.Data(), approx); diff != "" {
		t.Errorf("index mismatch (-want +got):\n%s", diff)
	}
	if _, err := kernels.Narrow(x, 1, 2, 2); err == nil {
		t.Errorf("Narrow accepted an out-of-range window")
	}
}

func TestElementwise(t *testing.T) {
	kernels := interp.Kernels{}
	x := dense([]int{2}, []float64{1, 2})
	y := dense([]int{2}, []float64{10, 20})
	sum, err := kernels.Add(x, y)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff([]float64{11, 22}, sum.Data(), approx); diff != "" {
		t.Errorf("add mismatch (-want +got):\n%s", diff)
	}
	prod, err := kernels.Mul(x, y)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff([]float64{10, 40}, prod.Data(), approx); diff != "" {
		t.Errorf("mul mismatch (-want +got):\n%s", diff)
	}
	a := dense(nil, []float64{3})
	b := dense(nil, []float64{4})
	diffT, err := kernels.Sub(a, b)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !diffT.Shape().IsScalar() {
		t.Fatalf("scalar sub produced shape %v", diffT.Shape())
	}
	if _, err := kernels.Add(x, dense([]int{3}, []float64{1, 2, 3})); err == nil {
		t.Errorf("Add accepted mismatched shapes")
	}
}

func buildEinsumGraph(equation string, placeholders ...string) *graph.Graph {
	g := graph.New()
	args := []graph.Arg{graph.String(equation)}
	for _, name := range placeholders {
		args = append(args, graph.Ref(g.Placeholder(name)))
	}
	g.Output(g.Call("einsum", args...))
	return g
}

func TestRun(t *testing.T) {
	g := buildEinsumGraph("ij,jk->ik", "x", "y")
	x := dense([]int{2, 2}, []float64{1, 2, 3, 4})
	y := dense([]int{2, 2}, []float64{5, 6, 7, 8})
	got, err := interp.Run(g, x, y)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff([]float64{19, 22, 43, 50}, got.Data(), approx); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestRunInputCount(t *testing.T) {
	g := buildEinsumGraph("ij,jk->ik", "x", "y")
	x := dense([]int{2, 2}, []float64{1, 2, 3, 4})
	if _, err := interp.Run(g, x); err == nil {
		t.Errorf("Run accepted too few inputs")
	}
	if _, err := interp.Run(g, x, x, x); err == nil {
		t.Errorf("Run accepted too many inputs")
	}
}

func TestAnnotate(t *testing.T) {
	g := buildEinsumGraph("ij,jk->ik", "x", "y")
	x := dense([]int{2, 3}, make([]float64, 6))
	y := dense([]int{3, 4}, make([]float64, 12))
	if err := interp.Annotate(g, x, y); err != nil {
		t.Fatalf("%+v", err)
	}
	wantDims := map[string][]int{
		"x":      {2, 3},
		"y":      {3, 4},
		"einsum": {2, 4},
		"output": {2, 4},
	}
	for node := range g.Nodes() {
		sh := node.Shape()
		if sh == nil {
			t.Errorf("node %s has no shape annotation", node)
			continue
		}
		if diff := cmp.Diff(wantDims[node.Name()], sh.AxisLengths); diff != "" {
			t.Errorf("node %s shape mismatch (-want +got):\n%s", node.Name(), diff)
		}
	}
}

func TestRunUnknownTarget(t *testing.T) {
	g := graph.New()
	x := g.Placeholder("x")
	g.Output(g.Call("frobnicate", graph.Ref(x)))
	_, err := interp.Run(g, dense([]int{2}, []float64{1, 2}))
	if err == nil {
		t.Fatalf("Run evaluated an unknown target")
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("error %q does not name the target", err.Error())
	}
}
