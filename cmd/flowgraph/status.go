package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kingrea/flowgraph/internal/tui"
	"github.com/kingrea/flowgraph/internal/workflow"
	"github.com/kingrea/flowgraph/internal/workflow/engine"
	"github.com/kingrea/flowgraph/plugins"
)

var statusCmd = &cobra.Command{
	Use:   "status <output-dir>",
	Short: "Print the last recorded status of every task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := workflow.Load(args[0])
		if err != nil {
			return err
		}
		snap, err := engine.NewRepository(nil, g.OutputDir()).Load()
		if err != nil && !errors.Is(err, engine.ErrStateNotFound) {
			return err
		}
		for _, t := range g.Tasks() {
			if s, ok := snap.Status[t.Name()]; ok {
				t.Restore(s)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderBoard(g, engine.Progress{}))
		return nil
	},
}

var commandsCmd = &cobra.Command{
	Use:   "commands <output-dir>",
	Short: "Print the rendered command of every task in dependency order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(filepath.Join(args[0], workflow.FileCommands))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <output-dir>",
	Short: "Follow a running graph in a terminal view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.RunWatch(args[0])
	},
}

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List the units found in the configured unit directories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := plugins.NewRegistry(cfg.UnitsDirs...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range registry.Names() {
			u, err := registry.Get(name)
			if err != nil {
				return err
			}
			path, _ := registry.Path(name)
			fmt.Fprintf(out, "%s\t%s\t%s\n", name, u.Executor(), path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, commandsCmd, watchCmd, unitsCmd)
}
