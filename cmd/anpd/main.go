// Command anpd runs the agent interoperability runtime: it loads agents from
// a user-data root, registers them, and serves the DID document and dispatch
// endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openanp/anp-runtime/agent"
	"github.com/openanp/anp-runtime/anp_resolver"
	"github.com/openanp/anp-runtime/server"
)

type serveOptions struct {
	host        string
	port        int
	userRoot    string
	envFile     string
	sessions    bool
	replayGuard bool
	logLevel    string
}

func main() {
	root := &cobra.Command{
		Use:          "anpd",
		Short:        "Agent interoperability runtime daemon",
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand())
	root.AddCommand(newAgentCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the runtime HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", envOr("ANPD_HOST", "localhost"), "host to listen on")
	flags.IntVar(&opts.port, "port", envIntOr("ANPD_PORT", 9527), "port to listen on")
	flags.StringVar(&opts.userRoot, "user-root", envOr("ANPD_USER_ROOT", "anp_users"), "user-data root directory")
	flags.StringVar(&opts.envFile, "env-file", "", "optional .env file to load before reading flags")
	flags.BoolVar(&opts.sessions, "sessions", false, "enable the session layer")
	flags.BoolVar(&opts.replayGuard, "replay-guard", false, "enable the nonce replay cache")
	flags.StringVar(&opts.logLevel, "log-level", envOr("ANPD_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	return cmd
}

func runServe(opts *serveOptions) error {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	logger := newLogger(opts.logLevel)
	slog.SetDefault(logger)

	store := agent.NewStore(opts.userRoot, logger)
	registry := agent.NewRegistry()

	stored, err := store.LoadAll()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		logger.Warn("user root does not exist; starting empty", "root", opts.userRoot)
	}
	for _, sa := range stored {
		a, err := agent.New(sa.Config.Name, sa.Credentials)
		if err != nil {
			logger.Warn("skipping agent", "dir", sa.Dir, "error", err)
			continue
		}
		if err := registry.Register(a); err != nil {
			logger.Warn("skipping agent", "dir", sa.Dir, "error", err)
			continue
		}
		logger.Info("registered agent", "did", a.DID(), "name", a.Name())
	}

	resolver := anp_resolver.NewChainResolver(
		anp_resolver.NewLocalResolver(opts.userRoot),
		anp_resolver.NewHTTPResolver(),
	)

	srv := server.New(server.Config{
		Host:           opts.host,
		Port:           opts.port,
		EnableSessions: opts.sessions,
		SessionTTL:     time.Hour,
		ReplayGuard:    opts.replayGuard,
		Logger:         logger,
	}, registry, store, resolver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}

func newAgentCommand() *cobra.Command {
	var (
		host     string
		port     int
		userRoot string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "new-agent",
		Short: "Generate a fresh agent directory under the user root",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("info")
			store := agent.NewStore(userRoot, logger)

			stored, err := store.Create(host, port, name, "")
			if err != nil {
				return err
			}
			fmt.Printf("created %s\n  did: %s\n", stored.Dir, stored.Credentials.DID)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", "localhost", "host the agent's DID binds to")
	flags.IntVar(&port, "port", 9527, "port the agent's DID binds to")
	flags.StringVar(&userRoot, "user-root", "anp_users", "user-data root directory")
	flags.StringVar(&name, "name", "agent", "display name of the agent")

	return cmd
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
