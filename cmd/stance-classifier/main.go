package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Shinhunjun/nk-coercive-diplomacy-reddit-sub001/classify"
	"github.com/Shinhunjun/nk-coercive-diplomacy-reddit-sub001/classify/provider"
	"github.com/Shinhunjun/nk-coercive-diplomacy-reddit-sub001/collect"
)

// classificationHeader is the stable output layout; the id column is the
// resume key.
var classificationHeader = []string{"id", "label", "confidence", "rationale"}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	_ = godotenv.Load()

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	logger, err := buildLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	vocab := defaultVocabulary()
	if cfg.VocabPath != "" {
		vocab, err = classify.LoadVocabulary(cfg.VocabPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	header := defaultPromptHeader
	if cfg.PromptFile != "" {
		header, err = loadPromptHeaderFromFile(cfg.PromptFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	records, err := collect.ReadSampleFile(cfg.InPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if cfg.RootsOnly {
		var roots []collect.SampleRecord
		for _, r := range records {
			if r.IsTopRoot {
				roots = append(roots, r)
			}
		}
		records = roots
	}
	if cfg.MaxRecords > 0 && len(records) > cfg.MaxRecords {
		records = records[:cfg.MaxRecords]
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "no input records")
		os.Exit(2)
	}

	stance, err := provider.NewStanceClassifier(apiKey, cfg.Model, composeInstructions(header, vocab))
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	cp, err := classify.OpenCheckpoint(cfg.OutPath, classificationHeader, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = cp.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := classify.NewRunner(
		func(r collect.SampleRecord) []string { return []string{collect.NormalizeID(r.ID)} },
		func(ctx context.Context, r collect.SampleRecord) (classify.Result, error) {
			return stance.Classify(ctx, r.Body)
		},
		vocab,
		classify.Options{Workers: cfg.Concurrency, CallTimeout: cfg.CallTimeout},
		logger,
	)

	stats, err := runner.Run(ctx, records, cp)
	if err != nil {
		logger.Error("classification run ended early", zap.Error(err))
	}

	fmt.Fprintf(os.Stdout, "processed=%d skipped=%d fallbacks=%d dropped=%d total_done=%d out=%s\n",
		stats.Processed, stats.Skipped, stats.Fallbacks, stats.Dropped, cp.Done(), cfg.OutPath)

	if err != nil {
		os.Exit(1)
	}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
