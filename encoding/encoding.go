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

// Package encoding serializes computation graphs to a YAML document and
// back. Nodes are written in topological order and reference each other
// by name, so a decoded graph rebuilds with the same structure and
// passes the same validation as the original.
package encoding

import (
	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/shape"
	"gopkg.in/yaml.v3"

	"github.com/mister-bailey/opt-einsum-fx/graph"
)

type document struct {
	Nodes []nodeDoc `yaml:"nodes"`
}

type nodeDoc struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"`
	Target string   `yaml:"target,omitempty"`
	Args   []argDoc `yaml:"args,omitempty"`
	Shape  *[]int   `yaml:"shape,omitempty"`
}

// argDoc is the one-field-set encoding of a node argument.
type argDoc struct {
	Node *string `yaml:"node,omitempty"`
	Str  *string `yaml:"str,omitempty"`
	Int  *int    `yaml:"int,omitempty"`
	Ints *[]int  `yaml:"ints,omitempty"`
}

// Encode serializes a graph.
func Encode(g *graph.Graph) ([]byte, error) {
	doc := document{Nodes: make([]nodeDoc, 0, g.Len())}
	for node := range g.Nodes() {
		nd := nodeDoc{
			Name:   node.Name(),
			Kind:   node.Kind().String(),
			Target: node.Target(),
		}
		for _, arg := range node.Args() {
			ad, err := encodeArg(arg)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot encode node %s", node)
			}
			nd.Args = append(nd.Args, ad)
		}
		if sh := node.Shape(); sh != nil {
			axes := append([]int{}, sh.AxisLengths...)
			nd.Shape = &axes
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	return yaml.Marshal(doc)
}

func encodeArg(arg graph.Arg) (argDoc, error) {
	switch a := arg.(type) {
	case graph.NodeRef:
		name := a.Node().Name()
		return argDoc{Node: &name}, nil
	case graph.String:
		s := string(a)
		return argDoc{Str: &s}, nil
	case graph.Int:
		i := int(a)
		return argDoc{Int: &i}, nil
	case graph.Ints:
		is := append([]int{}, a...)
		return argDoc{Ints: &is}, nil
	}
	return argDoc{}, errors.Errorf("unknown argument type %T", arg)
}

// Decode rebuilds a graph from its serialized form and validates it.
func Decode(data []byte) (*graph.Graph, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "cannot decode graph")
	}
	g := graph.New()
	byName := map[string]*graph.Node{}
	for _, nd := range doc.Nodes {
		var node *graph.Node
		args, err := decodeArgs(nd.Args, byName)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot decode node %q", nd.Name)
		}
		switch nd.Kind {
		case "placeholder":
			if len(args) > 0 {
				return nil, errors.Errorf("placeholder %q has arguments", nd.Name)
			}
			node = g.Placeholder(nd.Name)
		case "call":
			node = g.CallAs(nd.Name, nd.Target, args...)
		case "output":
			if len(args) != 1 {
				return nil, errors.Errorf("output node has %d arguments, want 1", len(args))
			}
			ref, ok := args[0].(graph.NodeRef)
			if !ok {
				return nil, errors.Errorf("output argument is not a node reference")
			}
			node = g.Output(ref.Node())
		default:
			return nil, errors.Errorf("node %q has unknown kind %q", nd.Name, nd.Kind)
		}
		if node.Name() != nd.Name {
			return nil, errors.Errorf("duplicate node name %q", nd.Name)
		}
		if nd.Shape != nil {
			node.SetShape(&shape.Shape{
				DType:       dtype.Float64,
				AxisLengths: append([]int{}, *nd.Shape...),
			})
		}
		byName[nd.Name] = node
	}
	if err := g.Lint(); err != nil {
		return nil, errors.Wrap(err, "decoded graph is inconsistent")
	}
	return g, nil
}

func decodeArgs(docs []argDoc, byName map[string]*graph.Node) ([]graph.Arg, error) {
	args := make([]graph.Arg, 0, len(docs))
	for i, ad := range docs {
		arg, err := decodeArg(ad, byName)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d", i)
		}
		args = append(args, arg)
	}
	return args, nil
}

func decodeArg(ad argDoc, byName map[string]*graph.Node) (graph.Arg, error) {
	set := 0
	for _, isSet := range []bool{ad.Node != nil, ad.Str != nil, ad.Int != nil, ad.Ints != nil} {
		if isSet {
			set++
		}
	}
	if set != 1 {
		return nil, errors.Errorf("argument must set exactly one of node, str, int, ints")
	}
	switch {
	case ad.Node != nil:
		node, ok := byName[*ad.Node]
		if !ok {
			return nil, errors.Errorf("reference to unknown node %q", *ad.Node)
		}
		return graph.Ref(node), nil
	case ad.Str != nil:
		return graph.String(*ad.Str), nil
	case ad.Int != nil:
		return graph.Int(*ad.Int), nil
	}
	return graph.Ints(append([]int{}, *ad.Ints...)), nil
}
