// Command leveleando runs the LeveleandoTG bot: XP for chat activity,
// monthly rankings and level-up announcements in Telegram groups.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leveleando/leveleando-tg/config"
	"github.com/leveleando/leveleando-tg/pkg/logger"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "leveleando",
		Short:         "LeveleandoTG: XP, levels and monthly rankings for Telegram groups",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(serveCmd(), migrateCmd(), rolloverCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the rollover scheduler and the HTTP endpoints",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	var status, down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := migrateUp
			switch {
			case status && down:
				return errors.New("--status and --down are mutually exclusive")
			case status:
				mode = migrateStatus
			case down:
				mode = migrateDown
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cfg, cmd.OutOrStdout(), mode)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "List migrations without applying them")
	cmd.Flags().BoolVar(&down, "down", false, "Roll back the most recently applied migration")
	return cmd
}

func rolloverCmd() *cobra.Command {
	var chatID int64
	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Close the previous month now, for one chat or for every configured chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runRollover(cmd.Context(), cfg, cmd.OutOrStdout(), chatID)
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "Chat id to roll over; all chats when omitted")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return serve(cmd.Context(), cfg)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if version != "dev" {
		cfg.App.Version = version
	}
	logger.New(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	return cfg, nil
}
