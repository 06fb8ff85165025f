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

// Command dgx compiles a YAML pipeline description and prints the
// resulting instruction streams or their dataflow graph.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	basefmt "github.com/dgx-org/dgx/base/fmt"
	"github.com/dgx-org/dgx/compile"
	"github.com/dgx-org/dgx/discr"
)

type rootOptions struct {
	pipelinePath      string
	noAggregate       bool
	maxVectorsInBatch int
}

func (opts *rootOptions) compilePipeline() (*compile.Code, *compile.Code, error) {
	p, err := loadPipeline(opts.pipelinePath)
	if err != nil {
		return nil, nil, err
	}
	expr, err := p.Result.build()
	if err != nil {
		return nil, nil, err
	}
	var copts []compile.Option
	if opts.noAggregate {
		copts = append(copts, compile.WithoutAggregation())
	}
	if opts.maxVectorsInBatch > 0 {
		copts = append(copts, compile.WithMaxVectorsInBatch(opts.maxVectorsInBatch))
	}
	return compile.New(discr.NewCache(p.Dim), copts...).Compile(expr)
}

func newDumpCommand(opts *rootOptions) *cobra.Command {
	var numbered bool
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print both instruction streams in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			discrCode, evalCode, err := opts.compilePipeline()
			if err != nil {
				return err
			}
			render := func(code *compile.Code) string {
				if numbered {
					return basefmt.Number(code.String() + "\n")
				}
				return code.String() + "\n"
			}
			fmt.Fprintln(cmd.OutOrStdout(), "// discretization-scoped")
			fmt.Fprint(cmd.OutOrStdout(), render(discrCode))
			fmt.Fprintln(cmd.OutOrStdout(), "// evaluation-scoped")
			fmt.Fprint(cmd.OutOrStdout(), render(evalCode))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&numbered, "numbered", "n", false, "prefix each line with its number")
	return cmd
}

func newDotCommand(opts *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Print the dataflow graph in Graphviz dot",
		RunE: func(cmd *cobra.Command, args []string) error {
			discrCode, evalCode, err := opts.compilePipeline()
			if err != nil {
				return err
			}
			code := evalCode
			switch scope {
			case "eval":
			case "discr":
				code = discrCode
			default:
				return errors.Errorf("unknown scope %q", scope)
			}
			fmt.Fprint(cmd.OutOrStdout(), compile.DotDataflowGraph(code, 0))
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "eval", "instruction stream to render (eval or discr)")
	return cmd
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "dgx",
		Short:         "Compile symbolic field computations into instruction schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.pipelinePath, "pipeline", "f", "", "path to the pipeline YAML file")
	cmd.MarkPersistentFlagRequired("pipeline")
	cmd.PersistentFlags().BoolVar(&opts.noAggregate, "no-aggregate", false, "disable assignment aggregation")
	cmd.PersistentFlags().IntVar(&opts.maxVectorsInBatch, "max-batch", 0, "bound on aggregated instruction size (0: unbounded)")
	cmd.AddCommand(newDumpCommand(opts))
	cmd.AddCommand(newDotCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dgx:", err)
		os.Exit(1)
	}
}
