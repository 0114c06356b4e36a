// Command seed generates a playable session from reference material and
// stores it, printing the session key clients connect with.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"Story-Loom/server/internal/config"
	"Story-Loom/server/internal/engine"
	"Story-Loom/server/internal/generators"
	"Story-Loom/server/internal/observability"
	"Story-Loom/server/internal/prompts"
	"Story-Loom/server/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	refPath := flag.String("ref", "", "file with the reference material")
	refText := flag.String("text", "", "reference material given inline")
	actions := flag.Int("actions", 0, "action budget, overrides engine.total_actions")
	skipMedia := flag.Bool("skip-media", false, "keep placeholder images and skip video")
	timeout := flag.Duration("timeout", 20*time.Minute, "overall time limit")
	dumpDir := flag.String("dump-templates", "", "write the prompt templates to this directory and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *dumpDir != "" {
		templates, err := prompts.NewDefaultEngine(cfg.Engine.PromptsDir)
		if err != nil {
			log.Fatalf("Failed to load prompt templates: %v", err)
		}
		if err := templates.DumpTemplates(*dumpDir); err != nil {
			log.Fatalf("Failed to dump prompt templates: %v", err)
		}
		fmt.Printf("Wrote %d templates to %s\n", len(templates.Names()), *dumpDir)
		return
	}

	reference, err := readReference(*refPath, *refText)
	if err != nil {
		log.Fatalf("Failed to read reference material: %v", err)
	}
	if cfg.Database.Driver == "memory" {
		log.Fatalf("The memory store cannot keep a seeded session, use sqlite or mysql")
	}
	if *actions > 0 {
		cfg.Engine.TotalActions = *actions
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	tracing, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer tracing.Shutdown(context.Background())

	store, err := storage.NewGormStore(cfg.Database, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer store.Close()

	poller := generators.NewPoller(generators.NewLumaClient(cfg.AI.Media), generators.PollerOptions{
		Interval:      cfg.Engine.PollInterval,
		Timeout:       cfg.Engine.PollTimeout,
		StatusRetries: cfg.Engine.StatusRetries,
	})
	llm := engine.NewLLMClient(cfg.AI.Text, cfg.AI.Vision)

	builder, err := engine.NewSessionBuilder(store, llm, poller, engine.BuilderOptions{
		TotalActions:   cfg.Engine.TotalActions,
		PortraitAspect: cfg.Engine.PortraitAspect,
		PromoAspect:    cfg.Engine.BackdropAspect,
		SkipMedia:      *skipMedia,
		PromptsDir:     cfg.Engine.PromptsDir,
	})
	if err != nil {
		log.Fatalf("Failed to create session builder: %v", err)
	}

	session, err := builder.Build(ctx, reference)
	if err != nil {
		log.Fatalf("Failed to build session: %v", err)
	}

	fmt.Printf("%s\t%s\n", session.ID, session.Title)
}

func readReference(path, text string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("pass -ref or -text")
	}
	return text, nil
}
