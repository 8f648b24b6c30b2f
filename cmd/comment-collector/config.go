package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	ThreadsPath string
	OutPath     string

	BaseURL        string
	PageSize       int
	MaxReplies     int
	PageDelay      time.Duration
	RequestTimeout time.Duration
	UserAgent      string

	TopRoots   int
	Workers    int
	MaxThreads int

	Verbose bool
}

func defaultConfig() Config {
	return Config{
		ThreadsPath:    filepath.FromSlash("data/threads.txt"),
		OutPath:        filepath.FromSlash("data/sample.csv"),
		BaseURL:        "https://api.pushshift.io",
		PageSize:       100,
		MaxReplies:     5000,
		PageDelay:      time.Second,
		RequestTimeout: 20 * time.Second,
		UserAgent:      "comment-collector/1.0",
		TopRoots:       5,
		Workers:        2,
	}
}

func (c Config) Validate() error {
	if c.ThreadsPath == "" {
		return errors.New("missing -threads")
	}
	if c.OutPath == "" {
		return errors.New("missing -out")
	}
	if c.BaseURL == "" {
		return errors.New("missing -base-url")
	}
	if c.PageSize <= 0 {
		return errors.New("page-size must be > 0")
	}
	if c.MaxReplies <= 0 {
		return errors.New("max-replies must be > 0")
	}
	if c.PageDelay < 0 {
		return errors.New("page-delay must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if c.TopRoots <= 0 {
		return errors.New("top-roots must be > 0")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if c.MaxThreads < 0 {
		return errors.New("max-threads must be >= 0")
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.ThreadsPath, "threads", cfg.ThreadsPath, "Path to a file listing thread IDs, one per line (# comments allowed)")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Output sample CSV path (appended across runs)")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Comment-search endpoint base URL")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Replies requested per page")
	fs.IntVar(&cfg.MaxReplies, "max-replies", cfg.MaxReplies, "Safety cap on total replies fetched per thread")
	fs.DurationVar(&cfg.PageDelay, "page-delay", cfg.PageDelay, "Fixed delay between page requests")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Per-request timeout")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header sent to the endpoint")
	fs.IntVar(&cfg.TopRoots, "top-roots", cfg.TopRoots, "Top-scored root replies kept per thread")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Threads fetched concurrently")
	fs.IntVar(&cfg.MaxThreads, "max-threads", 0, "Collect only the first N threads (0 = all)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Human-readable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.ThreadsPath = filepath.Clean(cfg.ThreadsPath)
	cfg.OutPath = filepath.Clean(cfg.OutPath)
	return cfg, nil
}
