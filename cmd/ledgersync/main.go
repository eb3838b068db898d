package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/signetops/ledgersync/internal/ledgersync"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envString("LEDGERSYNC_CONFIG", "ledgersync.json"), "path to the JSON configuration file")
	mode := flag.String("mode", envString("LEDGERSYNC_MODE", "reconcile"), "ingest, mark, reconcile, or watch")
	timeout := flag.Duration("timeout", durationEnv("LEDGERSYNC_TIMEOUT", 2*time.Minute), "per-run timeout")
	debounce := flag.Duration("watch-debounce", durationEnv("LEDGERSYNC_WATCH_DEBOUNCE", 0), "debounce window for watch mode")
	maxRetries := flag.Int("feed-max-retries", intEnv("LEDGERSYNC_FEED_MAX_RETRIES", 0), "feed retry attempts for transient failures")
	flag.Parse()

	cfg, err := ledgersync.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", *configPath, err)
	}

	feed := buildFeedClient(cfg, *maxRetries)
	ledger, err := ledgersync.BuildLedgerFromDSN(cfg.LedgerDSN, ledgersync.LedgerDSNOptions{
		HasHeader: cfg.LedgerHasHeader,
	})
	if err != nil {
		log.Fatalf("failed to initialize ledger backend: %v", err)
	}
	defer func() {
		if closeErr := ledger.Close(); closeErr != nil {
			log.Printf("ledger close failed: %v", closeErr)
		}
	}()

	switch strings.ToLower(strings.TrimSpace(*mode)) {
	case "ingest", "mark", "reconcile":
		summary, runErr := runOnce(*mode, cfg, feed, ledger, *timeout)
		fmt.Println(summary.Render())
		if runErr != nil {
			log.Fatalf("%s run failed: %v", *mode, runErr)
		}
	case "watch":
		if err := runWatch(cfg, feed, ledger, *timeout, *debounce); err != nil {
			log.Fatalf("watch mode failed: %v", err)
		}
	default:
		log.Fatalf("unsupported mode: %s", *mode)
	}
}

func runOnce(mode string, cfg ledgersync.Config, feed ledgersync.FeedSource, ledger ledgersync.Ledger, timeout time.Duration) (summary ledgersync.RunSummary, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary = ledgersync.NewRunSummary(mode)
	started := time.Now()
	defer func() {
		summary.Duration = time.Since(started)
	}()

	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "ingest" || mode == "reconcile" {
		result, err := ledgersync.Ingest(ctx, feed, ledger, ledgersync.IngestOptions{
			Query:     cfg.IngestQuery,
			PageSize:  cfg.PageSize,
			MaxEvents: cfg.MaxEvents,
		})
		summary.RecordIngest(result)
		if err != nil {
			return summary, err
		}
	}
	if mode == "mark" || mode == "reconcile" {
		result, err := ledgersync.MarkCompleted(ctx, feed, ledger, ledgersync.ScanOptions{
			Query:     cfg.CompletionQuery,
			ChunkSize: cfg.ChunkSize,
			MaxEvents: cfg.MaxEvents,
			Marker:    cfg.Marker,
		})
		summary.RecordScan(result)
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func runWatch(cfg ledgersync.Config, feed ledgersync.FeedSource, ledger ledgersync.Ledger, timeout, debounce time.Duration) error {
	path, ok := ledgersync.LedgerFilePath(cfg.LedgerDSN)
	if !ok {
		return fmt.Errorf("watch mode requires a file-backed ledger, got %s", cfg.LedgerDSN)
	}

	runs := make(chan struct{}, 1)
	watcher, err := ledgersync.NewWatcher(ledgersync.WatcherOptions{
		Path:     path,
		Debounce: debounce,
		OnChange: func() {
			select {
			case runs <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	log.Printf("watching %s, reconciling on change", path)
	// Reconcile once at startup so a quiet file still gets an initial pass.
	runs <- struct{}{}
	for {
		select {
		case <-stop:
			return nil
		case <-runs:
			summary, runErr := runOnce("reconcile", cfg, feed, ledger, timeout)
			fmt.Println(summary.Render())
			if runErr != nil {
				log.Printf("reconcile run failed: %v", runErr)
			}
		}
	}
}

func buildFeedClient(cfg ledgersync.Config, maxRetries int) *ledgersync.HTTPFeedClient {
	token := strings.TrimSpace(os.Getenv("LEDGERSYNC_FEED_TOKEN"))
	var provider ledgersync.FeedTokenProvider
	if token != "" {
		provider = func(context.Context) (string, error) {
			return token, nil
		}
	}
	return ledgersync.NewHTTPFeedClient(ledgersync.HTTPFeedClientOptions{
		BaseURL:       cfg.FeedBaseURL,
		TokenProvider: provider,
		UserAgent:     "ledgersync/1.0",
		MaxRetries:    maxRetries,
	})
}

func envString(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
