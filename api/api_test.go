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

package api_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gorgonia.org/tensor"

	"github.com/mister-bailey/opt-einsum-fx/api"
	"github.com/mister-bailey/opt-einsum-fx/graph"
	"github.com/mister-bailey/opt-einsum-fx/interp"
	"github.com/mister-bailey/opt-einsum-fx/rewrite"
	"github.com/mister-bailey/opt-einsum-fx/trace"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func fill(dims ...int) *tensor.Dense {
	total := 1
	for _, d := range dims {
		total *= d
	}
	data := make([]float64, total)
	for i := range data {
		data[i] = float64(i%6) - 2.5
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data))
}

func einmatmul(args []*trace.Tensor) *trace.Tensor {
	return trace.Einsum("ij,jk->ik", args[0], args[1])
}

func eintrace(args []*trace.Tensor) *trace.Tensor {
	return trace.Einsum("ii", args[0])
}

// eintracePreSliced takes traces of rectangular inputs forced square by
// narrowing them first, and combines the two scalars.
func eintracePreSliced(args []*trace.Tensor) *trace.Tensor {
	left := trace.Einsum("ii", args[0].Narrow(1, 0, 3))
	right := trace.Einsum("jj", args[1].Narrow(1, 0, 4))
	return left.Mul(right)
}

// fusable chains two einsums where the intermediate has a single use.
func fusable(args []*trace.Tensor) *trace.Tensor {
	z := trace.Einsum("ij,jk->ik", args[0], args[1])
	return trace.Einsum("ik,ij->i", z, args[0])
}

// unfusable reuses the intermediate outside the second einsum, so it
// must stay materialized.
func unfusable(args []*trace.Tensor) *trace.Tensor {
	z := trace.Einsum("ij,jk->ik", args[0], args[1])
	w := trace.Einsum("ik->ik", z)
	return z.Add(w)
}

func referenceValue(t *testing.T, model trace.Model, inputs []*tensor.Dense) *tensor.Dense {
	t.Helper()
	g, err := trace.Trace(len(inputs), model)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want, err := interp.Run(g, inputs...)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return want
}

func TestOptimizeEquivalence(t *testing.T) {
	tests := []struct {
		name   string
		model  trace.Model
		inputs []*tensor.Dense
	}{
		{name: "matmul", model: einmatmul, inputs: []*tensor.Dense{fill(3, 4), fill(4, 5)}},
		{name: "trace", model: eintrace, inputs: []*tensor.Dense{fill(5, 5)}},
		{name: "pre-sliced trace", model: eintracePreSliced, inputs: []*tensor.Dense{fill(3, 4), fill(4, 5)}},
		{name: "fusable chain", model: fusable, inputs: []*tensor.Dense{fill(3, 4), fill(4, 5)}},
		{
			name: "trace of a fused matmul",
			model: func(args []*trace.Tensor) *trace.Tensor {
				z := trace.Einsum("ij,jk->ik", args[0], args[1])
				return trace.Einsum("ii", z)
			},
			inputs: []*tensor.Dense{fill(3, 4), fill(4, 3)},
		},
		{name: "unfusable chain", model: unfusable, inputs: []*tensor.Dense{fill(3, 4), fill(4, 3)}},
		{
			name: "matrix chain",
			model: func(args []*trace.Tensor) *trace.Tensor {
				return trace.Einsum("ij,jk,kl->il", args[0], args[1], args[2])
			},
			inputs: []*tensor.Dense{fill(10, 30), fill(30, 5), fill(5, 60)},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			want := referenceValue(t, test.model, test.inputs)
			compiled, err := api.Optimize(test.model, test.inputs)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			got, err := compiled.Call(test.inputs...)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !want.Shape().Eq(got.Shape()) {
				t.Fatalf("shape %v, want %v", got.Shape(), want.Shape())
			}
			if diff := cmp.Diff(want.Data(), got.Data(), approx); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
			// Fresh inputs with the same shapes must work too.
			fresh := make([]*tensor.Dense, len(test.inputs))
			for i, in := range test.inputs {
				dims := []int(in.Shape())
				data := make([]float64, len(in.Data().([]float64)))
				for j := range data {
					data[j] = float64(j%4) + 0.5
				}
				fresh[i] = tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data))
			}
			wantFresh := referenceValue(t, test.model, fresh)
			gotFresh, err := compiled.Call(fresh...)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if diff := cmp.Diff(wantFresh.Data(), gotFresh.Data(), approx); diff != "" {
				t.Errorf("fresh input mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func countEinsums(g *graph.Graph) int {
	n := 0
	for node := range g.Nodes() {
		if rewrite.IsEinsum(node) {
			n++
		}
	}
	return n
}

func TestOptimizeFusesChain(t *testing.T) {
	compiled, err := api.Optimize(fusable, []*tensor.Dense{fill(3, 4), fill(4, 5)})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// The chain collapses into one combined contraction, which the path
	// expansion then splits into binary steps; no intermediate of the
	// original two einsums survives as a separate einsum over the other.
	calls := 0
	for node := range compiled.Graph().Nodes() {
		if node.Kind() == graph.KindCall {
			calls++
		}
	}
	if calls == 0 {
		t.Fatalf("optimized graph has no calls:\n%s", compiled.Graph())
	}
	for node := range compiled.Graph().Nodes() {
		if rewrite.IsEinsum(node) && len(node.Args()) > 3 {
			t.Errorf("einsum with more than 2 operands survived optimization: %s", node)
		}
	}
}

func TestOptimizeKeepsSharedIntermediate(t *testing.T) {
	compiled, err := api.Optimize(unfusable, []*tensor.Dense{fill(3, 4), fill(4, 3)})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// z = einsum(x, y) feeds both w = einsum(z) and the final add; both
	// contractions must still happen, under whatever lowering.
	if got := compiled.Graph().Find("add"); got == nil {
		t.Errorf("shared intermediate consumer disappeared:\n%s", compiled.Graph())
	}
}

func TestExportLoadRoundTrip(t *testing.T) {
	inputs := []*tensor.Dense{fill(3, 4), fill(4, 5)}
	compiled, err := api.Optimize(fusable, inputs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	data, err := compiled.Export()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	loaded, err := api.Load(data)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(compiled.Graph().String(), loaded.Graph().String()); diff != "" {
		t.Errorf("loaded graph differs (-exported +loaded):\n%s", diff)
	}
	want, err := compiled.Call(inputs...)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := loaded.Call(inputs...)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(want.Data(), got.Data(), approx); diff != "" {
		t.Errorf("loaded model computes different values (-want +got):\n%s", diff)
	}
}

func TestOptimizeGraph(t *testing.T) {
	g, err := trace.Trace(2, einmatmul)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	inputs := []*tensor.Dense{fill(3, 4), fill(4, 5)}
	compiled, err := api.OptimizeGraph(g, inputs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if n := countEinsums(compiled.Graph()); n != 0 {
		t.Errorf("matmul einsum was not lowered, %d einsum sites remain:\n%s", n, compiled.Graph())
	}
	want, err := interp.Run(g, inputs...)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := compiled.Call(inputs...)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(want.Data(), got.Data(), approx); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimizeGraphInputCountMismatch(t *testing.T) {
	g, err := trace.Trace(2, einmatmul)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := api.OptimizeGraph(g, []*tensor.Dense{fill(3, 4)}); err == nil {
		t.Errorf("OptimizeGraph accepted fewer example inputs than graph placeholders")
	}
}
