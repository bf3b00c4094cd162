package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/termchat-server/internal/app"
	"github.com/vovakirdan/termchat-server/internal/auth"
	"github.com/vovakirdan/termchat-server/internal/config"
	chatlog "github.com/vovakirdan/termchat-server/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	dataDir    string
	httpAddr   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "chatserver [port] [host]",
		Short:        "Multi-room text chat server",
		Args:         validateArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts, args)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "directory for snapshot files and the audit database")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "admin API and WebSocket listen address")

	cmd.AddCommand(newTokenCmd(opts))
	return cmd
}

// validateArgs accepts an optional port and an optional bind host.
func validateArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(2)(cmd, args); err != nil {
		return err
	}
	if len(args) > 0 {
		if _, err := parsePort(args[0]); err != nil {
			return err
		}
	}
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

func loadConfig(opts *rootOptions, args []string) (config.Config, error) {
	bootstrap := chatlog.New("info", nil)
	cfg, _, err := config.Load(bootstrap, opts.configPath)
	if err != nil {
		return cfg, err
	}

	overrides := config.Config{
		LogLevel: opts.logLevel,
		DataDir:  opts.dataDir,
		HTTPAddr: opts.httpAddr,
	}
	if len(args) > 0 {
		overrides.Port, _ = parsePort(args[0])
	}
	if len(args) > 1 {
		overrides.Host = args[1]
	}
	cfg.UpdateFrom(overrides)
	return cfg, cfg.Validate()
}

func runServer(ctx context.Context, opts *rootOptions, args []string) error {
	cfg, err := loadConfig(opts, args)
	if err != nil {
		return err
	}

	logger, closer, err := chatlog.NewWithFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return err
	}

	logger.Info().Str("addr", cfg.ListenAddr()).Str("data_dir", cfg.DataDir).Msg("starting chat server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an admin API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root, nil)
			if err != nil {
				return err
			}
			token, err := auth.GenerateToken(&auth.JWTConfig{
				Secret:   []byte(cfg.JWTSecret),
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				TTL:      ttl,
			}, subject)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
