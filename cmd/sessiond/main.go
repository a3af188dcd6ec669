// Package main provides the sessiond daemon, which runs Claude Code agent
// sessions behind an HTTP streaming API.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sessiond/internal/agent"
	"sessiond/internal/config"
	"sessiond/internal/registry"
	"sessiond/internal/server"
	"sessiond/internal/store"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath     string
		listen         string
		sessionsDir    string
		claudeBin      string
		permissionMode string
		allowedTools   []string
		logLevel       string
		logFormat      string
	)

	cmd := &cobra.Command{
		Use:     "sessiond",
		Short:   "Serve Claude Code sessions over HTTP with live event streaming",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = os.Getenv("SESSIOND_CONFIG")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			cfg.ApplyEnv()

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = listen
			}
			if flags.Changed("sessions-dir") {
				cfg.SessionsDir = sessionsDir
			}
			if flags.Changed("claude-bin") {
				cfg.ClaudeBin = claudeBin
			}
			if flags.Changed("permission-mode") {
				cfg.PermissionMode = permissionMode
			}
			if flags.Changed("allowed-tools") {
				cfg.AllowedTools = allowedTools
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := cfg.Logger(os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.Config{
				Addr:            cfg.Listen,
				Logger:          logger,
				Store:           store.New(cfg.SessionsDir),
				Driver:          agent.NewCLIDriver(cfg.ClaudeBin, cfg.PermissionMode, cfg.AllowedTools, logger),
				Registry:        registry.New(),
				ShutdownTimeout: cfg.ShutdownTimeout.Std(),
			})

			logger.Info("sessiond starting",
				"version", version,
				"sessions_dir", cfg.SessionsDir,
				"claude_bin", cfg.ClaudeBin)
			return srv.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML configuration file (env: SESSIOND_CONFIG)")
	flags.StringVar(&listen, "listen", "", "address to listen on (default: 127.0.0.1:8787)")
	flags.StringVar(&sessionsDir, "sessions-dir", "", "directory the agent writes session transcripts to")
	flags.StringVar(&claudeBin, "claude-bin", "", "agent binary to spawn (default: claude)")
	flags.StringVar(&permissionMode, "permission-mode", "", "permission mode passed to the agent (default: bypassPermissions)")
	flags.StringSliceVar(&allowedTools, "allowed-tools", nil, "tools the agent may use without prompting")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, or error")
	flags.StringVar(&logFormat, "log-format", "", "log format: text or json")

	return cmd
}
