package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/workflow"
	"github.com/kingrea/flowgraph/plugins"
)

var (
	outputFlag string
	paramsFlag string
)

var generateCmd = &cobra.Command{
	Use:   "generate <graph.yaml>",
	Short: "Render every command of a graph without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, closeLog, err := buildGraph(args[0])
		if err != nil {
			return err
		}
		defer closeLog()
		fmt.Fprintf(cmd.OutOrStdout(), "generated %d tasks in %s\n", len(g.Tasks()), g.OutputDir())
		return nil
	},
}

func init() {
	addGraphFlags(generateCmd)
	rootCmd.AddCommand(generateCmd)
}

func addGraphFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "output directory (default <working_dir>/<graph name>)")
	cmd.Flags().StringVarP(&paramsFlag, "params", "p", "", "YAML file of parameters keyed by task or unit name")
}

// buildGraph turns a declaration file into a generated graph. The returned
// func closes the run log.
func buildGraph(path string) (*workflow.Graph, func(), error) {
	decl, err := workflow.LoadDeclarationFile(path)
	if err != nil {
		return nil, nil, err
	}
	outputDir := outputFlag
	if outputDir == "" {
		outputDir = filepath.Join(cfg.WorkingDir, decl.Name)
	}
	log, err := openLogger(outputDir)
	if err != nil {
		return nil, nil, err
	}
	closeLog := func() { _ = log.Close() }
	fail := func(err error) (*workflow.Graph, func(), error) {
		log.Error("generate failed", zap.String("declaration", path), zap.Error(err))
		closeLog()
		return nil, nil, err
	}

	registry, err := plugins.NewRegistry(cfg.UnitsDirs...)
	if err != nil {
		return fail(err)
	}
	opts := []workflow.Option{
		workflow.WithRegistry(registry),
		workflow.WithEnv(cfg.Env()),
		workflow.WithLogger(log.Logger),
	}
	if paramsFlag != "" {
		params, err := loadParamsFile(paramsFlag)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, workflow.WithParams(params))
	}
	var transforms map[string]task.Transform
	if decl.Transforms != "" {
		script := decl.Transforms
		if !filepath.IsAbs(script) {
			script = filepath.Join(filepath.Dir(path), script)
		}
		if transforms, err = plugins.LoadTransforms(script); err != nil {
			return fail(err)
		}
		log.Debug("transforms loaded", zap.String("script", script), zap.Strings("names", plugins.TransformNames(transforms)))
	}

	g, err := workflow.New(decl.Name, outputDir, opts...)
	if err != nil {
		return fail(err)
	}
	if err := decl.Build(g, transforms); err != nil {
		return fail(err)
	}
	if err := g.Generate(); err != nil {
		return fail(err)
	}
	return g, closeLog, nil
}

func loadParamsFile(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	var params map[string]map[string]any
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("params: decode %s: %w", path, err)
	}
	return params, nil
}
