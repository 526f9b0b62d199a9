package main

import (
	"strings"

	"github.com/danmuck/chatwire/internal/config"
	"github.com/danmuck/chatwire/internal/logging"
	"github.com/danmuck/chatwire/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	configPath string
	addr       string
	adminAddr  string
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Run the chat server until SIGINT or SIGTERM.

Flags override values loaded from --config.

Examples:
  chatd serve
  chatd serve --addr=0.0.0.0:5555 --admin-addr=127.0.0.1:5556
  chatd serve --config=chatd.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServiceConfig(cmd, opts)
			if err != nil {
				return err
			}
			logging.ConfigureRuntime()
			log.Info().
				Str("addr", cfg.ListenAddr).
				Str("admin_addr", cfg.AdminListenAddr).
				Dur("ack_timeout", cfg.Session.AckTimeout).
				Int("max_retries", cfg.Session.MaxRetries).
				Msg("chatd starting")
			return server.NewServiceWithConfig(cfg).Run()
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to chatd TOML config")
	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "Chat listen address (default :5555)")
	cmd.Flags().StringVar(&opts.adminAddr, "admin-addr", "", "Admin HTTP listen address (disabled when empty)")

	return cmd
}

func resolveServiceConfig(cmd *cobra.Command, opts serveOptions) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.LoadServerConfig(path)
		if err != nil {
			return server.ServiceConfig{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("addr") {
		cfg.ListenAddr = strings.TrimSpace(opts.addr)
	}
	if cmd.Flags().Changed("admin-addr") {
		cfg.AdminListenAddr = strings.TrimSpace(opts.adminAddr)
	}
	if err := config.ValidateServerConfig(cfg); err != nil {
		return server.ServiceConfig{}, err
	}
	return cfg, nil
}
