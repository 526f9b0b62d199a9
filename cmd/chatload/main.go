package main

import (
	"fmt"
	"os"

	"github.com/danmuck/chatwire/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatload",
		Short: "Load generator for chatd",
		Long: `chatload drives simulated clients against a running chatd and
reports delivery counts, throughput and ack latency.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}

	rootCmd.AddCommand(stressCmd(), latencyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatload: %v\n", err)
		os.Exit(1)
	}
}

func stressCmd() *cobra.Command {
	opts := defaultStressOptions()

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run many concurrent clients",
		Long: `Connect --clients users concurrently, each sending --messages chat
lines, then print a summary.

Examples:
  chatload stress
  chatload stress --clients=50 --messages=100 --server=127.0.0.1:5555`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := runStress(cmd.Context(), opts)
			if err != nil {
				return err
			}
			stats.print(cmd.OutOrStdout(), opts)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Server, "server", "s", opts.Server, "Server address")
	cmd.Flags().IntVarP(&opts.Clients, "clients", "n", opts.Clients, "Number of concurrent clients")
	cmd.Flags().IntVarP(&opts.Messages, "messages", "m", opts.Messages, "Messages per client")
	cmd.Flags().DurationVar(&opts.Interval, "interval", opts.Interval, "Delay between messages per client")
	cmd.Flags().DurationVar(&opts.Stagger, "stagger", opts.Stagger, "Delay between client launches")

	return cmd
}

func latencyCmd() *cobra.Command {
	opts := defaultStressOptions()
	var count int

	cmd := &cobra.Command{
		Use:   "latency",
		Short: "Measure reliable-send round trips from one client",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := runLatency(cmd.Context(), opts.Server, count)
			if err != nil {
				return err
			}
			stats.print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Server, "server", "s", opts.Server, "Server address")
	cmd.Flags().IntVarP(&count, "messages", "m", 100, "Messages to send")

	return cmd
}
