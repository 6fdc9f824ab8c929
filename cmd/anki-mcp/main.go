package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danieldreier/anki-mcp/internal/ankiconnect"
	"github.com/danieldreier/anki-mcp/internal/config"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	serverName    = "anki-mcp"
	serverVersion = "1.0.0"

	serverInstructions = "A server for interacting with Anki through AnkiConnect"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), configPath, os.Stdin, os.Stdout)
	}
	root := &cobra.Command{
		Use:           serverName,
		Short:         "MCP server for Anki via the AnkiConnect add-on",
		Long:          "anki-mcp exposes an Anki collection to MCP clients over stdio.\nAnki must be running with the AnkiConnect add-on installed.",
		SilenceUsage:  true,
		Version:       serverVersion,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default $ANKI_MCP_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdin and stdout (default)",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check that AnkiConnect is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	})
	return root
}

// newLogger builds the process logger. It writes to stderr only, since
// stdout carries the MCP stream.
func newLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	logConfig := zap.NewDevelopmentConfig()
	if cfg.LogFormat == "json" {
		logConfig = zap.NewProductionConfig()
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.ErrorOutputPaths = []string{"stderr"}

	logger, err := logConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing zap logger: %v. Logging is disabled.\n", err)
		return zap.NewNop()
	}
	return logger
}

// newMCPServer builds the MCP server with every tool registered.
func newMCPServer(svc *AnkiService) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithInstructions(serverInstructions),
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)
	registerTools(s, svc)
	return s
}

// runServe serves MCP until stdin closes or ctx is cancelled. The client
// is released and the log flushed before it returns.
func runServe(ctx context.Context, configPath string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	manager := ankiconnect.NewManagerFromConfig(cfg, logger)
	defer manager.ReleaseAll()

	svc := NewAnkiService(manager, cfg, logger)
	stdio := server.NewStdioServer(newMCPServer(svc))
	stdio.SetErrorLogger(zap.NewStdLog(logger))

	logger.Info("Starting anki-mcp",
		zap.String("version", serverVersion),
		zap.String("anki_connect_url", cfg.AnkiConnectURL),
		zap.Int("max_concurrent_requests", cfg.MaxConcurrent))

	err = stdio.Listen(ctx, stdin, stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("MCP server stopped", zap.Error(err))
		return err
	}
	logger.Info("Shutting down")
	return nil
}

// runCheck probes AnkiConnect once and reports the result on out.
func runCheck(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	manager := ankiconnect.NewManagerFromConfig(cfg, logger)
	defer manager.ReleaseAll()

	st := manager.Status(ctx)
	if !st.Connected {
		fmt.Fprintf(out, "AnkiConnect at %s is not reachable: %v\n", cfg.AnkiConnectURL, st.Err)
		return st.Err
	}
	fmt.Fprintf(out, "AnkiConnect at %s is reachable (version %s)\n", cfg.AnkiConnectURL, st.Version)
	return nil
}
