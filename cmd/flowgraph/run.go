package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/tui"
	"github.com/kingrea/flowgraph/internal/workflow"
	"github.com/kingrea/flowgraph/internal/workflow/engine"
)

var (
	capacityFlag int
	intervalFlag time.Duration
	quietFlag    bool
)

var runCmd = &cobra.Command{
	Use:   "run <graph.yaml>",
	Short: "Generate a graph and run it to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, closeLog, err := buildGraph(args[0])
		if err != nil {
			return err
		}
		defer closeLog()
		return runGraph(cmd, g)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <output-dir>",
	Short: "Resume a generated graph from its last status snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openLogger(args[0])
		if err != nil {
			return err
		}
		defer log.Close()
		g, err := workflow.Load(args[0], workflow.WithEnv(cfg.Env()), workflow.WithLogger(log.Logger))
		if err != nil {
			return err
		}
		return runGraph(cmd, g)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().IntVarP(&capacityFlag, "capacity", "n", 0, "maximum number of tasks running at once (default from config)")
		c.Flags().DurationVarP(&intervalFlag, "interval", "i", 0, "pause between polling rounds (default from config)")
		c.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "do not print the progress board")
	}
	addGraphFlags(runCmd)
	rootCmd.AddCommand(runCmd, resumeCmd)
}

// runGraph polls g until it is done or the process is interrupted. Running
// tasks are left alone on interrupt; resume picks the graph up again.
func runGraph(cmd *cobra.Command, g *workflow.Graph) error {
	capacity := cfg.Capacity
	if capacityFlag > 0 {
		capacity = capacityFlag
	}
	interval := cfg.PollInterval
	if intervalFlag > 0 {
		interval = intervalFlag
	}
	opts := []engine.Option{
		engine.WithCapacity(capacity),
		engine.WithInterval(interval),
		engine.WithLogger(g.Logger()),
	}
	if !quietFlag {
		opts = append(opts, engine.WithReporter(tui.NewBoard(cmd.OutOrStdout())))
	}
	e, err := engine.New(g, engine.NewRepository(nil, g.OutputDir()), opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := e.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(cmd.ErrOrStderr(), "interrupted; resume with: flowgraph resume %s\n", g.OutputDir())
		}
		return err
	}
	if status := g.Status(); status != task.StatusSuccess {
		return fmt.Errorf("graph %s finished %s", g.Name(), status)
	}
	return nil
}
