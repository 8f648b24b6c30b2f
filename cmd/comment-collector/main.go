package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/Shinhunjun/nk-coercive-diplomacy-reddit-sub001/collect"
	"github.com/Shinhunjun/nk-coercive-diplomacy-reddit-sub001/collect/reddit"
)

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

	logger, err := buildLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	threadIDs, err := readThreadIDs(cfg.ThreadsPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if len(threadIDs) == 0 {
		fmt.Fprintln(os.Stderr, "no thread IDs in -threads file")
		os.Exit(2)
	}
	if cfg.MaxThreads > 0 && len(threadIDs) > cfg.MaxThreads {
		threadIDs = threadIDs[:cfg.MaxThreads]
	}

	client, err := reddit.NewClient(reddit.Config{
		BaseURL:        cfg.BaseURL,
		PageSize:       cfg.PageSize,
		MaxReplies:     cfg.MaxReplies,
		PageDelay:      cfg.PageDelay,
		RequestTimeout: cfg.RequestTimeout,
		UserAgent:      cfg.UserAgent,
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	out, err := collect.OpenSampleWriter(cfg.OutPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = out.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := collect.NewCollector(client, cfg.TopRoots, logger)
	stats, err := collector.Run(ctx, threadIDs, cfg.Workers, out)
	if err != nil {
		logger.Error("collection run ended early", zap.Error(err))
	}

	fmt.Fprintf(os.Stdout, "threads=%d skipped=%d failed=%d samples=%d orphans=%d collisions=%d out=%s\n",
		stats.Threads, stats.SkippedThreads, stats.FailedThreads, stats.Samples, stats.Orphans, stats.Collisions, cfg.OutPath)

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

// readThreadIDs parses the thread-list file: one ID per line, blank lines
// and #-comments skipped.
func readThreadIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read -threads: %w", err)
	}
	defer f.Close()

	var ids []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan -threads: %w", err)
	}
	return ids, nil
}
