package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Interactive chat client",
		Long: `chatctl connects to a chatd server and relays lines typed on stdin.

Commands:
  /broadcast <message>   send to all users, yourself included
  /msg <user> <message>  private message
  /quit                  disconnect and exit

Any other line is sent to every other user.

Examples:
  chatctl --username=alice
  chatctl --server=chat.local:5555 --username=bob
  chatctl --config=chatctl.toml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveClientConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runInteractive(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to chatctl TOML config")
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "Server address (default 127.0.0.1:5555)")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "Username to register")

	return cmd
}
