// Copyright 2025 The dgx authors
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

package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/dgx-org/dgx/sym"
)

type (
	// pipeline is the YAML description of a field computation.
	pipeline struct {
		// Dim is the number of reference axes of the discretization.
		Dim    int   `yaml:"dim"`
		Result *node `yaml:"result"`
	}

	// node is one expression node; exactly one field must be set.
	node struct {
		Var   string   `yaml:"var,omitempty"`
		Const *float64 `yaml:"const,omitempty"`
		Sum   []*node  `yaml:"sum,omitempty"`
		Mul   []*node  `yaml:"mul,omitempty"`
		Call  *call    `yaml:"call,omitempty"`
		Diff  *diff    `yaml:"diff,omitempty"`
		Op    *apply   `yaml:"op,omitempty"`
		CSE   *cse     `yaml:"cse,omitempty"`
	}

	call struct {
		Fn        string  `yaml:"fn"`
		Primitive bool    `yaml:"primitive,omitempty"`
		Args      []*node `yaml:"args"`
	}

	diff struct {
		Axis  int    `yaml:"axis"`
		Tag   string `yaml:"tag,omitempty"`
		Field *node  `yaml:"field"`
	}

	apply struct {
		Name  string `yaml:"name"`
		Field *node  `yaml:"field"`
	}

	cse struct {
		Prefix string `yaml:"prefix,omitempty"`
		Scope  string `yaml:"scope,omitempty"`
		Child  *node  `yaml:"child"`
	}
)

func loadPipeline(path string) (*pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read pipeline %q", path)
	}
	p := &pipeline{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "cannot parse pipeline %q", path)
	}
	if p.Dim <= 0 {
		return nil, errors.Errorf("pipeline %q: dim must be positive", path)
	}
	if p.Result == nil {
		return nil, errors.Errorf("pipeline %q: no result expression", path)
	}
	return p, nil
}

func buildAll(ns []*node) ([]sym.Node, error) {
	built := make([]sym.Node, len(ns))
	for i, n := range ns {
		var err error
		built[i], err = n.build()
		if err != nil {
			return nil, err
		}
	}
	return built, nil
}

func (n *node) build() (sym.Node, error) {
	switch {
	case n == nil:
		return nil, errors.New("missing expression node")
	case n.Var != "":
		return sym.Var(n.Var), nil
	case n.Const != nil:
		return &sym.Constant{Value: *n.Const}, nil
	case len(n.Sum) > 0:
		terms, err := buildAll(n.Sum)
		if err != nil {
			return nil, err
		}
		return sym.Add(terms...), nil
	case len(n.Mul) > 0:
		factors, err := buildAll(n.Mul)
		if err != nil {
			return nil, err
		}
		return sym.Mul(factors...), nil
	case n.Call != nil:
		args, err := buildAll(n.Call.Args)
		if err != nil {
			return nil, err
		}
		fn := &sym.FunctionSymbol{Name: n.Call.Fn, Primitive: n.Call.Primitive}
		return sym.NewCall(fn, args...), nil
	case n.Diff != nil:
		field, err := n.Diff.Field.build()
		if err != nil {
			return nil, err
		}
		return sym.Bind(sym.Diff(n.Diff.Axis, n.Diff.Tag), field), nil
	case n.Op != nil:
		field, err := n.Op.Field.build()
		if err != nil {
			return nil, err
		}
		return sym.Bind(&sym.ApplyOperator{Name: n.Op.Name}, field), nil
	case n.CSE != nil:
		child, err := n.CSE.Child.build()
		if err != nil {
			return nil, err
		}
		scope := sym.ScopeEvaluation
		switch n.CSE.Scope {
		case "", "eval":
		case "discr":
			scope = sym.ScopeDiscretization
		default:
			return nil, errors.Errorf("unknown cse scope %q", n.CSE.Scope)
		}
		return sym.CSEScoped(child, n.CSE.Prefix, scope), nil
	default:
		return nil, errors.New("expression node sets no field")
	}
}
