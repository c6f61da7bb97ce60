package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tubeloop",
		Short:        "Learn which suggested video topics actually performed",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(learnCmd())
	root.AddCommand(insightsCmd())
	root.AddCommand(matchesCmd())
	root.AddCommand(contextCmd())
	root.AddCommand(collectCmd())
	root.AddCommand(importCmd())
	root.AddCommand(memoryCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func learnCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Run one learning cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearn(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func insightsCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Show learned insights, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsights(cmd.Context(), jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max insights to show")
	return cmd
}

func matchesCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Show suggestion to video matches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatches(cmd.Context(), jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max matches to show")
	return cmd
}

func contextCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the learned rules block for the suggestion prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContext(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max insights to include")
	return cmd
}

func collectCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run video collectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), sources)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific collectors to run (youtube,feed)")
	return cmd
}

func importCmd() *cobra.Command {
	var batchID string

	cmd := &cobra.Command{
		Use:   "import <strategy.json>",
		Short: "Import suggestions from an agent strategy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args[0], batchID)
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "batch id (overrides the file's batch_id)")
	return cmd
}

func memoryCmd() *cobra.Command {
	var (
		reset    bool
		confirm  bool
		ref      string
		findings []string
		action   string
	)

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Show, append to, or reset the agent memory log",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case reset:
				return runMemoryReset(confirm)
			case ref != "":
				return runMemoryAppend(ref, findings, action)
			default:
				return runMemoryShow()
			}
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "truncate the memory log")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm --reset")
	cmd.Flags().StringVar(&ref, "ref", "", "channel reference for a new entry")
	cmd.Flags().StringSliceVar(&findings, "finding", nil, "finding for a new entry (repeatable, max 3)")
	cmd.Flags().StringVar(&action, "action", "", "next action for a new entry")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
