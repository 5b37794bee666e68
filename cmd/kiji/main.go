// Package main is the kiji CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/cli"
	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/pipeline"
	"github.com/hyperjump/kiji/internal/scheduler"
	"github.com/hyperjump/kiji/internal/server"
	"github.com/hyperjump/kiji/internal/source"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/watcher"
	"github.com/hyperjump/kiji/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kiji/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "list":
		runList()
	case "reprocess":
		runReprocess()
	case "highlights":
		runHighlights()
	case "topics":
		runTopics()
	case "purge":
		runPurge()
	case "status":
		runStatus()
	case "inbox":
		runInbox()
	case "version", "--version", "-v":
		fmt.Printf("kiji version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, builds the logger and every component. Callers must defer
// logger.Sync and components.Close.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, resolved, logger, components
}

func parseOutput(s string) cli.OutputFormat {
	switch s {
	case "json":
		return cli.OutputJSON
	case "text":
		return cli.OutputText
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", s)
		os.Exit(1)
		return cli.OutputText
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (inbox events, per-article stages, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := components.Pipeline
	if n, err := p.Warm(ctx, cfg.Dedup.Window); err != nil {
		logger.Warn("dedup window warm-up failed", zap.Error(err))
	} else {
		logger.Info("dedup window warmed", zap.Int("articles", n))
	}

	inbox := watcher.New(
		cfg.Inbox.Directories,
		cfg.Inbox.RecursiveOrDefault(),
		func(ctx context.Context, path string) error {
			report, err := p.IngestFile(ctx, path)
			if err != nil {
				return err
			}
			logger.Info("inbox file ingested",
				zap.String("path", path),
				zap.String("run_id", report.RunID),
				zap.Int("stored", report.Stored))
			return nil
		},
		watcher.WithLogger(logger),
	)
	if err := inbox.Start(ctx); err != nil {
		logger.Fatal("Failed to start inbox watcher", zap.Error(err))
	}
	go inbox.SyncExistingFiles()

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		if cfg.Source.SpoolDir == "" {
			logger.Warn("schedule enabled but source.spool_dir is not set; scheduled batches disabled")
		} else {
			sched = scheduler.New(source.NewSpoolFetcher(cfg.Source.SpoolDir), p,
				scheduler.WithReprocess(cfg.Schedule.Reprocess),
				scheduler.WithLogger(logger),
			)
			if err := sched.Start(cfg.Schedule.Cron); err != nil {
				logger.Fatal("Failed to start scheduler", zap.Error(err))
			}
			logger.Info("scheduler started", zap.String("cron", cfg.Schedule.Cron), zap.String("spool_dir", cfg.Source.SpoolDir))
		}
	}

	srv := server.NewServer(
		components.Engine,
		components.Store,
		p,
		cfg,
		logger,
		server.WithHighlighter(components.Highlighter),
		server.WithWatch(inbox, resolvedConfigPath),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	inbox.Stop()
	_ = srv.Stop(shutdownCtx)
	cancel()
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument, so "kiji query what happened -top-k 3" would otherwise
// leave -top-k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 1 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kiji query [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kiji query what did the RBA decide on interest rates
  kiji query -category sports "who won the State of Origin"
  kiji query -from 2025-03-01 -to 2025-03-08 -top-k 3 latest album releases
  kiji query -output json "bond yields"
`)
}

// queryResponse is the shape of POST /api/v1/query responses.
type queryResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
	*models.QueryResult
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = query the store directly)")
	category := fs.String("category", "", "restrict to one category (sports, lifestyle, music, finance)")
	from := fs.String("from", "", "earliest publication date (YYYY-MM-DD or RFC 3339)")
	to := fs.String("to", "", "publication date upper bound, exclusive")
	topK := fs.Int("top-k", 0, "number of articles to ground the answer on (default from config)")
	noScope := fs.Bool("no-scope", false, "do not infer a category from the question")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildQuery(fs.Args())
	if question == "" {
		printQueryUsage(fs)
		os.Exit(1)
	}
	format := parseOutput(*outputFormat)

	if *serverURL != "" {
		body := map[string]interface{}{
			"query": question, "category": *category, "from": *from, "to": *to,
			"top_k": *topK, "no_scope": *noScope,
		}
		var resp queryResponse
		code, err := doJSON(http.MethodPost, *serverURL+"/api/v1/query", body, &resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		switch {
		case resp.Status == server.StatusAnswered && resp.QueryResult != nil:
			if err := cli.WriteAnswer(os.Stdout, resp.QueryResult, format); err != nil {
				fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
				os.Exit(1)
			}
		case resp.Status == server.StatusNoResults:
			fmt.Println(resp.Message)
		case resp.Status == server.StatusDegraded:
			fmt.Fprintln(os.Stderr, resp.Message)
			os.Exit(2)
		default:
			fmt.Fprintf(os.Stderr, "Query failed (%d): %s\n", code, resp.Error)
			os.Exit(1)
		}
		return
	}

	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	q := &models.Query{Text: question, TopK: *topK, NoScope: *noScope}
	if *category != "" {
		c, err := models.ParseCategory(*category)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		q.Category = c
	}
	r, err := parseRange(*from, *to)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	q.Range = r
	result, err := components.Engine.Answer(context.Background(), q)
	if err != nil {
		if models.IsNoRelevantResults(err) {
			fmt.Println(cli.DescribeQueryError(err))
			return
		}
		fmt.Fprintln(os.Stderr, cli.DescribeQueryError(err))
		os.Exit(2)
	}
	if err := cli.WriteAnswer(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func parseRange(from, to string) (models.DateRange, error) {
	var r models.DateRange
	var err error
	if from != "" {
		if r.From, err = source.ParseTimestamp(from); err != nil {
			return r, fmt.Errorf("invalid -from: %w", err)
		}
	}
	if to != "" {
		if r.To, err = source.ParseTimestamp(to); err != nil {
			return r, fmt.Errorf("invalid -to: %w", err)
		}
	}
	return r, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL to post payloads to (empty = ingest directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kiji ingest [flags] <payload-file | directory | ->")
		os.Exit(1)
	}
	path := fs.Arg(0)
	format := parseOutput(*outputFormat)

	payloads, files, err := readPayloadArg(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payloads: %v\n", err)
		os.Exit(1)
	}
	if files > 1 {
		fmt.Printf("Read %d payload file(s) from %s\n", files, path)
	}

	// A running server owns the dedup window and answer cache, so it ingests when it is up.
	if *serverURL != "" {
		var report pipeline.BatchReport
		code, err := doJSON(http.MethodPost, *serverURL+"/api/v1/ingest", payloads, &report)
		switch {
		case err == nil && code == http.StatusOK:
			_ = cli.WriteBatchReport(os.Stdout, &report, format)
			return
		case code != 0:
			fmt.Fprintf(os.Stderr, "Ingest failed (%d): %v\n", code, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Server at %s unreachable, ingesting directly\n", *serverURL)
	}

	cfg, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	p := components.Pipeline
	if _, err := p.Warm(ctx, cfg.Dedup.Window); err != nil {
		logger.Warn("dedup window warm-up failed", zap.Error(err))
	}
	report, err := p.RunBatch(ctx, payloads)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteBatchReport(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// readPayloadArg reads payloads from stdin ("-"), a payload file, or a directory of them.
// It returns the payloads and the number of files read.
func readPayloadArg(path string) ([]*models.RawPayload, int, error) {
	if path == "-" {
		payloads, err := source.ReadPayloads(os.Stdin)
		return payloads, 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	if info.IsDir() {
		return source.ReadPayloadDir(path)
	}
	payloads, err := source.ReadPayloadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return payloads, 1, nil
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the store directly)")
	category := fs.String("category", "", "category to list (empty = all)")
	from := fs.String("from", "", "earliest publication date")
	to := fs.String("to", "", "publication date upper bound, exclusive")
	limit := fs.Int("limit", 20, "number of articles")
	offset := fs.Int("offset", 0, "number of articles to skip")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseOutput(*outputFormat)

	if *serverURL != "" {
		v := url.Values{}
		for k, val := range map[string]string{"category": *category, "from": *from, "to": *to} {
			if val != "" {
				v.Set(k, val)
			}
		}
		v.Set("limit", fmt.Sprint(*limit))
		v.Set("offset", fmt.Sprint(*offset))
		var out struct {
			Articles []*models.EnrichedArticle `json:"articles"`
			Error    string                    `json:"error"`
		}
		code, err := doJSON(http.MethodGet, *serverURL+"/api/v1/articles?"+v.Encode(), nil, &out)
		if err != nil || code != http.StatusOK {
			fmt.Fprintf(os.Stderr, "List failed (%d): %v %s\n", code, err, out.Error)
			os.Exit(1)
		}
		_ = cli.WriteArticles(os.Stdout, out.Articles, format)
		return
	}

	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	var c models.Category
	if *category != "" {
		var err error
		if c, err = models.ParseCategory(*category); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	r, err := parseRange(*from, *to)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	articles, err := components.Store.ListByCategory(context.Background(), c, r, models.Page{Offset: *offset, Limit: *limit}.Normalize(20, 500))
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteArticles(os.Stdout, articles, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runReprocess() {
	fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 0, "maximum articles to retry (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseOutput(*outputFormat)

	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	report, err := components.Pipeline.Reprocess(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reprocess failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteReprocessReport(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runHighlights() {
	fs := flag.NewFlagSet("highlights", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	refresh := fs.Bool("refresh", false, "recompute highlights before listing")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseOutput(*outputFormat)

	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	categories := models.Categories
	if fs.NArg() > 0 {
		c, err := models.ParseCategory(fs.Arg(0))
		if err != nil || c == models.CategoryUncategorized {
			fmt.Fprintf(os.Stderr, "Unknown category %q\n", fs.Arg(0))
			os.Exit(1)
		}
		categories = []models.Category{c}
	}
	ctx := context.Background()
	for _, c := range categories {
		if *refresh {
			if _, err := components.Highlighter.Refresh(ctx, c); err != nil {
				fmt.Fprintf(os.Stderr, "Refresh %s failed: %v\n", c, err)
				os.Exit(1)
			}
		}
		articles, err := components.Store.Featured(ctx, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Highlights %s failed: %v\n", c, err)
			os.Exit(1)
		}
		if err := cli.WriteHighlights(os.Stdout, c, articles, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	}
}

func runTopics() {
	fs := flag.NewFlagSet("topics", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	regroup := fs.Bool("regroup", false, "recompute topics before listing")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseOutput(*outputFormat)

	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	categories := models.Categories
	if fs.NArg() > 0 {
		c, err := models.ParseCategory(fs.Arg(0))
		if err != nil || c == models.CategoryUncategorized {
			fmt.Fprintf(os.Stderr, "Unknown category %q\n", fs.Arg(0))
			os.Exit(1)
		}
		categories = []models.Category{c}
	}
	ctx := context.Background()
	for _, c := range categories {
		if *regroup {
			if _, err := components.Topics.Group(ctx, c); err != nil {
				fmt.Fprintf(os.Stderr, "Regroup %s failed: %v\n", c, err)
				os.Exit(1)
			}
		}
		topics, err := loadTopics(ctx, components.Store, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Topics %s failed: %v\n", c, err)
			os.Exit(1)
		}
		if err := cli.WriteTopics(os.Stdout, c, topics, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	}
}

// loadTopics returns the stored topics of c, largest first.
func loadTopics(ctx context.Context, store storage.Store, c models.Category) ([]cli.Topic, error) {
	clusters, err := store.TopicClusters(ctx, c)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, members := range clusters {
		ids = append(ids, members...)
	}
	articles, err := store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	topics := make([]cli.Topic, 0, len(clusters))
	for id, members := range clusters {
		t := cli.Topic{ID: id}
		for _, m := range members {
			if a, ok := articles[m]; ok {
				t.Articles = append(t.Articles, a)
			}
		}
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if len(topics[i].Articles) != len(topics[j].Articles) {
			return len(topics[i].Articles) > len(topics[j].Articles)
		}
		return topics[i].ID < topics[j].ID
	})
	return topics, nil
}

// purgeCutoff resolves -before (a date) or -older-than (a duration before now).
func purgeCutoff(before string, olderThan time.Duration, now time.Time) (time.Time, error) {
	switch {
	case before != "" && olderThan > 0:
		return time.Time{}, errors.New("use either -before or -older-than, not both")
	case before != "":
		return source.ParseTimestamp(before)
	case olderThan > 0:
		return now.Add(-olderThan), nil
	default:
		return time.Time{}, errors.New("one of -before or -older-than is required")
	}
}

func runPurge() {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	before := fs.String("before", "", "delete articles published before this date")
	olderThan := fs.Duration("older-than", 0, "delete articles published more than this long ago (e.g. 2160h)")
	_ = fs.Parse(os.Args[2:])

	cutoff, err := purgeCutoff(*before, *olderThan, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	n, err := components.Store.Purge(context.Background(), cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Purge failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Purged %d article(s) published before %s\n", n, cutoff.UTC().Format(time.RFC3339))
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseOutput(*outputFormat)

	var status cli.Status
	if *serverURL != "" {
		code, err := doJSON(http.MethodGet, *serverURL+"/api/v1/status", nil, &status)
		if err != nil || code != http.StatusOK || status.Store == nil {
			fmt.Fprintf(os.Stderr, "Status failed (%d): %v\n", code, err)
			os.Exit(1)
		}
	} else {
		cfg, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		stats, err := components.Store.Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status.Store = stats
		status.DiskUsageBytes, _ = storage.DiskUsageBytes(
			cfg.Storage.DatabasePath,
			cfg.Storage.BleveIndexPath,
			cfg.Storage.VectorSnapshotPath,
		)
	}
	if err := cli.WriteStatus(os.Stdout, &status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runInbox() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kiji inbox <add|remove|list> [path]")
		fmt.Println("  kiji inbox add <path>     Watch a directory for payload files")
		fmt.Println("  kiji inbox remove <path>  Stop watching a directory")
		fmt.Println("  kiji inbox list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])
	endpoint := *serverURL + "/api/v1/inbox/directories"
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kiji inbox add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		code, err := doJSON(http.MethodPost, endpoint, map[string]interface{}{"path": path, "sync": true}, nil)
		if err != nil || code != http.StatusCreated {
			fmt.Printf("Add failed (%d): %v\n", code, err)
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kiji inbox remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		code, err := doJSON(http.MethodDelete, endpoint+"?path="+url.QueryEscape(path), nil, nil)
		if err != nil || code != http.StatusOK {
			fmt.Printf("Remove failed (%d): %v\n", code, err)
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		code, err := doJSON(http.MethodGet, endpoint, nil, &out)
		if err != nil || code != http.StatusOK {
			fmt.Printf("List failed (%d): %v\n", code, err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown inbox subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// doJSON sends body (when non-nil) as JSON and decodes the response into out (when non-nil).
// It returns the HTTP status. Error responses are decoded too, so out can carry the
// server's status and message.
func doJSON(method, target string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 400 && out == nil {
		return resp.StatusCode, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp.StatusCode, nil
}

func printUsage() {
	fmt.Println(`kiji - News ingestion, enrichment and grounded question answering

Usage:
  kiji server [flags]               Start the HTTP server, inbox watcher and scheduler
  kiji ingest [flags] <path|->      Ingest a payload file, a directory of them, or stdin
  kiji query [flags] <question>     Answer a question from stored articles
  kiji list [flags]                 List stored articles
  kiji reprocess [flags]            Retry articles with missing enrichment
  kiji highlights [flags] [category] Show featured articles
  kiji topics [flags] [category]    Show topic clusters
  kiji purge [flags]                Delete articles older than a cutoff
  kiji status [flags]               Show store and index status
  kiji inbox <add|remove|list>      Manage watched inbox directories
  kiji version                      Show version
  kiji help                         Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kiji/config.yaml, or ./config.yaml when present)
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Query Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to query the store directly.
  --category string  Restrict to one category
  --from, --to       Publication date bounds
  --top-k int        Articles used to ground the answer
  --no-scope         Do not infer a category from the question

Ingest Flags:
  --server string    Server URL (default: http://localhost:8080). Falls back to direct ingest when unreachable;
                     use --server "" to always ingest directly.

Purge Flags:
  --before string       Delete articles published before this date
  --older-than duration Delete articles published more than this long ago

Examples:
  kiji server
  kiji ingest /var/spool/kiji/2025-03-04.jsonl
  cat feed.json | kiji ingest -
  kiji query what did the RBA decide on interest rates
  kiji query --category finance --output json "bond yields"
  kiji list --category sports --limit 10
  kiji highlights --refresh finance
  kiji topics --regroup finance
  kiji purge --older-than 2160h
  kiji inbox add /var/spool/kiji/inbox`)
}
