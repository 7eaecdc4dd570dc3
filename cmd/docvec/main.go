// Package main is the docvec CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/cli"
	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/internal/ingest"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/server"
	"github.com/hyperjump/docvec/internal/storage"
	"github.com/hyperjump/docvec/internal/vectorstore"
	"github.com/hyperjump/docvec/internal/watcher"
	"github.com/hyperjump/docvec/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// errUsage marks a command line that could not be parsed; usage was already printed.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "Failed to load .env: %v\n", err)
		return 1
	}

	var err error
	switch command, rest := args[0], args[1:]; command {
	case "server":
		err = runServer(rest, stderr)
	case "ingest":
		err = runIngest(rest, stdout, stderr)
	case "update":
		err = runUpdate(rest, stdout, stderr)
	case "persist":
		err = runPersist(rest, stdout, stderr)
	case "status":
		err = runStatus(rest, stdout, stderr)
	case "search":
		err = runSearch(rest, stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "docvec version %s\n", version)
	case "help", "--help", "-h":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
	if err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	return 0
}

// loadConfig loads the config file at path, falling back to defaults when the default path does
// not exist. It returns the path actually loaded, or "" for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != defaultConfigPath {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	if _, err := os.Stat(path); err != nil {
		cfg, err := config.LoadOrDefault("")
		return cfg, "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(abs)
	return cfg, abs, err
}

// setup loads config, builds the logger and opens the components.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *components, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode, cfg.LogDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return cfg, logger, comps, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runServer(args []string, stderr io.Writer) error {
	fs := newFlagSet("server", stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, comps, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recoverIndex(ctx, comps, logger)

	var opts []server.Option
	var watchSvc *watcher.Watcher
	if cfg.Watch.EnabledOrDefault() {
		watchSvc = newWatcher(cfg, comps, logger)
		if err := watchSvc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		if cfg.Watch.SyncOnStartOrDefault() {
			go watchSvc.SyncExistingFiles()
		}
		opts = append(opts, server.WithWatcher(watchSvc))
	}

	srv := server.NewServer(comps.Ingest, comps.Vectors, cfg, logger, opts...)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
	if perr := comps.Vectors.Persist(shutdownCtx); perr != nil {
		logger.Error("final persist failed", zap.Error(perr))
		err = errors.Join(err, perr)
	}
	return err
}

// recoverIndex rebuilds the index from the catalogue when the catalogue holds chunks but no
// snapshot could be loaded.
func recoverIndex(ctx context.Context, comps *components, logger *zap.Logger) {
	if comps.Vectors.Size() > 0 {
		return
	}
	stats, err := comps.Ingest.Stats(ctx)
	if err != nil || stats.Chunks == 0 {
		return
	}
	logger.Warn("vector index empty but catalogue has chunks, rebuilding", zap.Int64("chunks", stats.Chunks))
	if _, err := comps.Ingest.Update(ctx, true); err != nil {
		logger.Error("rebuild from catalogue failed", zap.Error(err))
	}
}

// watchRoots returns the upload directory followed by the configured directories, without
// duplicates.
func watchRoots(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, d := range append([]string{cfg.Storage.UploadDir}, cfg.Watch.Directories...) {
		if d == "" || seen[filepath.Clean(d)] {
			continue
		}
		seen[filepath.Clean(d)] = true
		roots = append(roots, filepath.Clean(d))
	}
	return roots
}

func newWatcher(cfg *config.Config, comps *components, logger *zap.Logger) *watcher.Watcher {
	svc := comps.Ingest
	return watcher.NewWatcher(
		watchRoots(cfg),
		comps.Filter,
		func(ctx context.Context, path string) error {
			_, err := svc.IngestFile(ctx, path)
			return err
		},
		svc.Remove,
		watcher.WithLogger(logger),
		watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
	)
}

func runIngest(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("ingest", stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: docvec ingest [flags] <file or directory>...\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	_, logger, comps, err := setup(*configPath, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	total := &ingest.DirectoryResult{}
	for _, path := range fs.Args() {
		if ctx.Err() != nil {
			break
		}
		if err := ingestPath(ctx, comps.Ingest, path, total); err != nil {
			total.Failed = append(total.Failed, ingest.FileError{Path: path, Err: err.Error()})
		}
	}
	// Persist regardless of the batching counter; this process is about to exit.
	persistErr := comps.Vectors.Persist(context.Background())
	if err := cli.WriteDirectoryResult(stdout, total, format); err != nil {
		return err
	}
	if persistErr != nil {
		return persistErr
	}
	if len(total.Failed) > 0 {
		return fmt.Errorf("%d files failed", len(total.Failed))
	}
	return ctx.Err()
}

func ingestPath(ctx context.Context, svc *ingest.Service, path string, total *ingest.DirectoryResult) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		res, err := svc.IngestDirectory(ctx, path, ingest.TerminalProgress())
		if res != nil {
			total.Ingested += res.Ingested
			total.Skipped += res.Skipped
			total.Chunks += res.Chunks
			total.Failed = append(total.Failed, res.Failed...)
		}
		return err
	}
	res, err := svc.IngestFile(ctx, path)
	// A failed automatic persist leaves the chunks in memory; the final persist retries it.
	if err != nil && !(res != nil && errors.Is(err, vectorstore.ErrPersistence)) {
		return err
	}
	if res.Skipped {
		total.Skipped++
	} else {
		total.Ingested++
		total.Chunks += res.Chunks
	}
	return nil
}

func runUpdate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("update", stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty or unreachable = open the stores directly)")
	force := fs.Bool("force", false, "rebuild the index from every catalogued chunk")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var res ingest.UpdateResult
	if c := newAPIClient(*serverURL); c.available() {
		if err := c.post("/api/v1/vectordb/update", map[string]bool{"force_rebuild": *force}, &res); err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
	} else {
		_, logger, comps, err := setup(*configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer comps.Close()
		out, err := comps.Ingest.Update(context.Background(), *force)
		if err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		res = *out
	}
	fmt.Fprintf(stdout, "Updated vector store with %d chunks (force rebuild: %t)\n", res.Chunks, res.ForceRebuild)
	return nil
}

func runPersist(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("persist", stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty or unreachable = open the stores directly)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var out struct {
		SnapshotVersion uint64 `json:"snapshot_version"`
		Size            int    `json:"size"`
	}
	if c := newAPIClient(*serverURL); c.available() {
		if err := c.post("/api/v1/vectordb/persist", nil, &out); err != nil {
			return fmt.Errorf("persist failed: %w", err)
		}
	} else {
		_, logger, comps, err := setup(*configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer comps.Close()
		if err := comps.Vectors.Persist(context.Background()); err != nil {
			return fmt.Errorf("persist failed: %w", err)
		}
		st := comps.Vectors.Status()
		out.SnapshotVersion, out.Size = st.SnapshotVersion, st.Size
	}
	fmt.Fprintf(stdout, "Persisted snapshot %d (%d vectors)\n", out.SnapshotVersion, out.Size)
	return nil
}

func runStatus(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("status", stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty or unreachable = open the stores directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	var report cli.StatusReport
	if c := newAPIClient(*serverURL); c.available() {
		if err := c.get("/api/v1/vectordb/status", &report); err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
	} else {
		cfg, logger, comps, err := setup(*configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer comps.Close()
		if report.Catalogue, err = comps.Ingest.Stats(context.Background()); err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		report.VectorDB = comps.Vectors.Status()
		report.Config = server.ConfigSummary(cfg)
		if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorDBDir); err == nil {
			report.DiskUsageBytes = &n
		}
	}
	return cli.WriteStatus(stdout, &report, format)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
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

func runSearch(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("search", stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty or unreachable = open the stores directly)")
	limit := fs.Int("limit", 5, "number of results")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: docvec search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(searchArgsReorder(args)); err != nil {
		return err
	}
	query := buildSearchQuery(fs.Args())
	if query == "" {
		fs.Usage()
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	var response *models.SearchResponse
	if c := newAPIClient(*serverURL); c.available() {
		response = &models.SearchResponse{}
		if err := c.post("/api/v1/search", map[string]interface{}{"query": query, "limit": *limit}, response); err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
	} else {
		_, logger, comps, err := setup(*configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer comps.Close()
		if response, err = server.Search(context.Background(), comps.Ingest, comps.Vectors, query, *limit); err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
	}
	return cli.WriteSearchResults(stdout, response, format)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `docvec - document ingest and vector store

Usage:
  docvec <command> [flags]

Commands:
  server    Run the HTTP API and the upload directory watcher
  ingest    Ingest files or directories into the catalogue and the vector store
  update    Add pending chunks to the vector store (-force rebuilds from the catalogue)
  persist   Write a snapshot of the vector store now
  status    Show vector store and catalogue status
  search    Look up the chunks nearest to a query
  version   Print the version

Commands that talk to a running server use -server (default %s) and open the
stores directly when it is not reachable.

Config is read from ./config.yaml when present (override with -config); DOCVEC_* variables and a
.env file in the working directory override it.
`, defaultServerURL)
}
