package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	InPath     string
	OutPath    string
	Model      string
	APIKey     string
	VocabPath  string
	PromptFile string

	Concurrency int
	CallTimeout time.Duration
	MaxRecords  int
	RootsOnly   bool

	Verbose bool
}

func defaultConfig() Config {
	return Config{
		InPath:      filepath.FromSlash("data/sample.csv"),
		OutPath:     filepath.FromSlash("data/stances.csv"),
		Model:       "gpt-5-mini",
		Concurrency: 4,
		CallTimeout: 60 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.InPath == "" {
		return errors.New("missing -in")
	}
	if c.OutPath == "" {
		return errors.New("missing -out")
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if c.CallTimeout <= 0 {
		return errors.New("call-timeout must be > 0")
	}
	if c.MaxRecords < 0 {
		return errors.New("max-records must be >= 0")
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InPath, "in", cfg.InPath, "Input sample CSV (comment-collector output)")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Output classification CSV (appended across runs, resume by id)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model to use")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.StringVar(&cfg.VocabPath, "vocab", "", "Optional YAML file overriding the built-in label vocabulary")
	fs.StringVar(&cfg.PromptFile, "prompt-file", "", "Optional file containing a custom prompt header (prepended before the fixed SECURITY+schema tail)")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Max concurrent classification calls")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "Timeout per classification call")
	fs.IntVar(&cfg.MaxRecords, "max-records", 0, "Classify only the first N input records (0 = all)")
	fs.BoolVar(&cfg.RootsOnly, "roots-only", false, "Classify only top-root records")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Human-readable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.InPath = filepath.Clean(cfg.InPath)
	cfg.OutPath = filepath.Clean(cfg.OutPath)
	if cfg.VocabPath != "" {
		cfg.VocabPath = filepath.Clean(cfg.VocabPath)
	}
	if cfg.PromptFile != "" {
		cfg.PromptFile = filepath.Clean(cfg.PromptFile)
	}
	return cfg, nil
}
