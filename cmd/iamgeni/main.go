// iamgeni: IAM chat assistant for an Entra ID tenant.
//
// Usage:
//
//	iamgeni serve   [-config path]   # HTTP API for the chat UI
//	iamgeni mcp     [-config path]   # MCP server over stdio
//	iamgeni chat    [-config path]   # terminal chat client
//	iamgeni version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	internal "github.com/ZanzyTHEbar/iam-geni/geni"
	"github.com/ZanzyTHEbar/iam-geni/geni/capabilities/directory"
	"github.com/ZanzyTHEbar/iam-geni/geni/capabilities/qa"
	"github.com/ZanzyTHEbar/iam-geni/geni/chat"
	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/db"
	"github.com/ZanzyTHEbar/iam-geni/geni/llm"
	"github.com/ZanzyTHEbar/iam-geni/geni/mcpserver"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration/adapters"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
	"github.com/ZanzyTHEbar/iam-geni/geni/server"

	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var run func(context.Context, *config.Config, zerolog.Logger) error
	switch os.Args[1] {
	case "serve":
		run = runServe
	case "mcp":
		run = runMCP
	case "chat":
		run = runChat
	case "--version", "-v", "version":
		fmt.Printf("%s %s\n", internal.DefaultAppName, internal.Version)
		return
	case "--help", "-h", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	configPath := fs.String("config", "", "path to a config file")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	config.Watch(func(next *config.Config) {
		setLevel(next.Log.Level)
		logger.Info().Str("level", next.Log.Level).Msg("Config reloaded")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Exiting")
		stop()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%[1]s - IAM chat assistant

Usage:
  %[1]s serve   [-config path]   HTTP API for the chat UI
  %[1]s mcp     [-config path]   MCP server over stdio
  %[1]s chat    [-config path]   terminal chat client
  %[1]s version
`, internal.DefaultAppName)
}

// newLogger writes to stderr so stdout stays free for the MCP transport.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	setLevel(cfg.Level)
	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setLevel(name string) {
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// openStore connects and migrates the thread store.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*adapters.SQLThreadStore, func(), error) {
	sqlDB, err := db.ConnectToDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, sqlDB, cfg.Type, logger); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	return adapters.NewSQLThreadStore(sqlDB), func() { sqlDB.Close() }, nil
}

// newProvider returns nil when no chat completion endpoint is configured.
func newProvider(cfg config.LLMConfig, logger zerolog.Logger) (ports.Provider, error) {
	p, err := llm.NewFromConfig(cfg)
	if errors.Is(err, llm.ErrNotConfigured) {
		logger.Warn().Msg("No chat completion endpoint configured")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newAssistant(cfg *config.Config, provider ports.Provider, store ports.ThreadStore, logger zerolog.Logger) (*qa.Assistant, error) {
	if provider == nil {
		return nil, qa.ErrNoProvider
	}
	return qa.NewFromConfig(cfg.QA, cfg.LLM, provider, store, logger)
}

func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg.Session.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := newProvider(cfg.LLM, logger)
	if err != nil {
		return err
	}

	builders := server.Builders{
		QA: func() (server.QAService, error) {
			a, err := newAssistant(cfg, provider, store, logger)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
		Orchestrator: func(answerer ports.Answerer) (server.Orchestrator, error) {
			client, err := directory.NewFromConfig(cfg.Graph, logger)
			if err != nil {
				return nil, err
			}
			factory := orchestration.NewFactory(&cfg.Router, &cfg.LLM, logger)
			router, err := factory.CreateRouter(answerer, directory.Tools(client), provider)
			if err != nil {
				return nil, err
			}
			return router, nil
		},
	}

	var opts []server.Option
	if cfg.Auth.Enabled {
		v, err := server.NewVerifier(cfg.Auth)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithVerifier(v))
	}

	srv := server.New(cfg.Server, store, builders, logger, opts...)
	if cfg.Server.EagerInit {
		if err := srv.Warm(); err != nil {
			return err
		}
	}
	return srv.Run(ctx)
}

func runMCP(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	client, err := directory.NewFromConfig(cfg.Graph, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Session.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := newProvider(cfg.LLM, logger)
	if err != nil {
		return err
	}

	var answerer ports.Answerer
	if a, err := newAssistant(cfg, provider, store, logger); err != nil {
		logger.Warn().Err(err).Msg("IAM documentation tool disabled")
	} else {
		answerer = a
	}

	return mcpserver.Serve(mcpserver.New(directory.Tools(client), answerer, logger))
}

func runChat(ctx context.Context, cfg *config.Config, _ zerolog.Logger) error {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	return chat.Run(ctx, cfg.Chat)
}
