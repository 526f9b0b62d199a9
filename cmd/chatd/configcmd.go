package main

import (
	"fmt"

	"github.com/danmuck/chatwire/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate config files",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		kind   string
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write a config file populated with the default values.

Examples:
  chatd config init --kind=server --output=chatd.toml
  chatd config init --kind=client --output=chatctl.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = defaultConfigPath(kind)
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s config to %s\n", kind, target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", config.KindServer, "Config kind: server|client")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default chatd.toml or chatctl.toml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func configValidateCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath(kind)
			if len(args) == 1 {
				path = args[0]
			}
			switch kind {
			case config.KindServer:
				if _, err := config.LoadServerConfig(path); err != nil {
					return err
				}
			case config.KindClient:
				if _, err := config.LoadClientConfig(path); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown config kind: %s", kind)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Validated %s config at %s\n", kind, path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", config.KindServer, "Config kind: server|client")

	return cmd
}

func defaultConfigPath(kind string) string {
	if kind == config.KindClient {
		return "chatctl.toml"
	}
	return "chatd.toml"
}
