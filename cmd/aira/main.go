package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ai-code-co/aira/common/environment"
	"github.com/ai-code-co/aira/common/version"
	"github.com/ai-code-co/aira/internal/aira/config"
	"github.com/ai-code-co/aira/internal/aira/genai"
	"github.com/ai-code-co/aira/internal/aira/maintain"
	"github.com/ai-code-co/aira/internal/aira/memory"
	"github.com/ai-code-co/aira/internal/aira/observability"
	"github.com/ai-code-co/aira/internal/aira/server"
	"github.com/ai-code-co/aira/internal/aira/session"
)

func main() {
	configPath := flag.String("config", environment.StringOr("AIRA_CONFIG", ""), "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("aira", version.Info())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	observability.Setup(cfg.LogLevel, cfg.LogFormat)

	apiKey, err := environment.RequiredString("OPENAI_API_KEY")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := memory.NewSQLiteStore(memory.SQLiteConfig{
		Path:    cfg.DatabasePath,
		MaxKeep: cfg.MaxRawMessagesKeep,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open memory store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	gen := genai.NewClient(genai.Config{
		APIKey:  apiKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.GenerationModel,
		Timeout: cfg.RequestTimeout,
	})

	maintainer := maintain.New(store, gen, maintain.Config{
		SummaryModel:   cfg.SummaryModel,
		AnalysisModel:  cfg.AnalysisModel,
		SummarizeAfter: cfg.SummarizeAfterMessages,
	}, nil)

	coord := session.New(store, gen, maintainer, session.Config{
		Persona:           cfg.PersonaInstructions,
		GenerationModel:   cfg.GenerationModel,
		ContextWindowSize: cfg.ContextWindowSize,
	}, nil)

	srv := server.New(cfg.ListenAddr, coord, store, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("aira starting", "version", version.Version, "addr", cfg.ListenAddr, "db", cfg.DatabasePath)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}

	// Let in-flight background jobs finish before closing the store.
	maintainer.Wait()
	slog.Info("aira stopped")
}
