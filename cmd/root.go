// Package cmd holds the mbox-contacts command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-contacts/config"
)

// NewRootCommand builds the command tree.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "mbox-contacts",
		Short:         "Build a deduplicated contact roster from mbox archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, err
	}

	for _, build := range []func() (*cobra.Command, error){
		newExtractCommand,
		newDedupeCommand,
		newShowCommand,
		newScanCommand,
	} {
		sub, err := build()
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(sub)
	}
	return rootCmd, nil
}

// Execute runs the command line until completion or interrupt.
func Execute() error {
	rootCmd, err := NewRootCommand()
	if err != nil {
		return fmt.Errorf("failed to register CLI flags: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// setupLogger writes text logs to w and, when a log directory is set, to a
// timestamped file in it.
func setupLogger(cfg config.Config, w io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mbox-contacts-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(w, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(w, opts)
	return slog.New(handler), cleanup, nil
}

// prepare loads the configuration of cmd and its logger.
func prepare(cmd *cobra.Command, args []string) (config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.LoadConfig(cmd, args)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, cleanup, err := setupLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, cleanup, nil
}
