// Package main is the docsight CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/answer"
	"github.com/hyperjump/docsight/internal/blob"
	"github.com/hyperjump/docsight/internal/chunker"
	"github.com/hyperjump/docsight/internal/cli"
	"github.com/hyperjump/docsight/internal/config"
	"github.com/hyperjump/docsight/internal/embedding"
	"github.com/hyperjump/docsight/internal/extract"
	"github.com/hyperjump/docsight/internal/keyword"
	"github.com/hyperjump/docsight/internal/llm"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/pipeline"
	"github.com/hyperjump/docsight/internal/search"
	"github.com/hyperjump/docsight/internal/server"
	"github.com/hyperjump/docsight/internal/storage"
	"github.com/hyperjump/docsight/internal/watcher"
	"github.com/hyperjump/docsight/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/docsight/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	sessionHeader     = "X-Session-ID"
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
	// Secrets referenced by *_env config keys may live in a local .env file.
	_ = godotenv.Load()

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
	case "search":
		runSearch()
	case "ask":
		runAsk()
	case "delete":
		runDelete()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("docsight version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("blob_driver", cfg.Blob.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	inbox := watcher.NewInbox(components.Pipeline, cfg.Ingest.DefaultUser, watcher.WithInboxLogger(logger))
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		inbox.OnFile,
		inbox.OnRemove,
		watcher.WithLogger(logger),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(server.Deps{
		Store:    components.Storage,
		Blobs:    components.Blobs,
		Ingestor: components.Pipeline,
		Search:   components.Engine,
		Chat:     components.Chat,
		Watch:    watchSvc,
	}, cfg, resolvedConfigPath, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// commandFlags are the flags shared by the client subcommands.
type commandFlags struct {
	configPath *string
	serverURL  *string
	session    *string
}

func addCommandFlags(fs *flag.FlagSet) commandFlags {
	return commandFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path (for direct mode)"),
		serverURL:  fs.String("server", defaultServerURL, "server URL (empty = run in-process against the configured stores)"),
		session:    fs.String("session", "", "session id (default: ingest.default_user from config)"),
	}
}

// sessionOrDefault returns the session flag, falling back to the configured default user.
func sessionOrDefault(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg != nil {
		return cfg.Ingest.DefaultUser
	}
	return "local"
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: docsight search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  docsight search machine learning
  docsight search "machine learning"                  # same as above
  docsight search --type keyword invoice 2024          # full-text only
  docsight search --type hybrid --threshold 0.5 cats
  docsight search --tags animals --content-type image kitten
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "docsight search cats -limit 5"
// would otherwise leave -limit unparsed.
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

// splitTags parses a comma-separated tag list, dropping empty entries.
func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// searchFlags registers the search request flags on fs and returns a builder for the request.
func searchFlags(fs *flag.FlagSet) func(query string) *models.SearchRequest {
	searchType := fs.String("type", string(models.SearchTypeSemantic), "search type: semantic, keyword, or hybrid")
	limit := fs.Int("limit", 0, "maximum results (default from config)")
	threshold := fs.Float64("threshold", -1, "minimum similarity in [0,1] (default from config)")
	contentType := fs.String("content-type", "", "restrict to a content type (text, document, image)")
	tags := fs.String("tags", "", "comma-separated tags; results must carry at least one")
	return func(query string) *models.SearchRequest {
		req := &models.SearchRequest{
			Query:        query,
			SearchType:   models.SearchType(*searchType),
			MaxResults:   *limit,
			ContentType:  *contentType,
			RequiredTags: splitTags(*tags),
		}
		if *threshold >= 0 {
			t := *threshold
			req.SimilarityThreshold = &t
		}
		return req
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	common := addCommandFlags(fs)
	buildRequest := searchFlags(fs)
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	req := buildRequest(queryStr)

	var response *models.SearchResponse
	if *common.serverURL != "" {
		response, err = searchViaHTTP(*common.serverURL, *common.session, req)
	} else {
		components, cfg, cleanup := directComponents(*common.configPath)
		defer cleanup()
		user, userErr := components.Storage.GetOrCreateUser(context.Background(), sessionOrDefault(*common.session, cfg))
		if userErr != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", userErr)
			os.Exit(1)
		}
		req.UserID = user.ID
		response, err = components.Engine.Search(context.Background(), req)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	common := addCommandFlags(fs)
	buildRequest := searchFlags(fs)
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	question := buildSearchQuery(fs.Args())
	if question == "" {
		fmt.Println("Usage: docsight ask [flags] <question>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	req := buildRequest(question)

	var resp *answer.AskResponse
	if *common.serverURL != "" {
		resp = &answer.AskResponse{}
		err = postJSON(*common.serverURL+"/api/v1/answer", *common.session, req, resp)
	} else {
		components, cfg, cleanup := directComponents(*common.configPath)
		defer cleanup()
		resp, err = components.Chat.Ask(context.Background(), answer.AskRequest{
			SessionID: sessionOrDefault(*common.session, cfg),
			Search:    *req,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL, session string, req *models.SearchRequest) (*models.SearchResponse, error) {
	var response models.SearchResponse
	if err := postJSON(serverURL+"/api/v1/search", session, req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// postJSON posts body as JSON and decodes a 200 response into out.
func postJSON(endpoint, session string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	return doJSON(req, http.StatusOK, out)
}

func doJSON(req *http.Request, wantStatus int, out interface{}) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// collectFiles expands path into the files to ingest. Directories are walked recursively and
// filtered by extensions; a single file is returned as is.
func collectFiles(path string, extensions []string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if hasExtension(p, extensions) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func hasExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	common := addCommandFlags(fs)
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: docsight ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}

	cfg, _, cfgErr := loadConfig(*common.configPath)
	exts := []string(nil)
	if cfgErr == nil {
		exts = cfg.Watch.Extensions
	}
	var files []string
	for _, arg := range fs.Args() {
		found, err := collectFiles(arg, exts)
		if err != nil {
			fmt.Printf("Failed to read %s: %v\n", arg, err)
			os.Exit(1)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		fmt.Println("No files to ingest")
		return
	}

	if *common.serverURL != "" {
		docs, err := uploadViaHTTP(*common.serverURL, *common.session, files)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range docs {
			fmt.Printf("Accepted %s: %s (%s)\n", d.FileName, d.ID, d.Status)
		}
		return
	}

	components, cfg, cleanup := directComponents(*common.configPath)
	inbox := watcher.NewInbox(components.Pipeline, sessionOrDefault(*common.session, cfg), watcher.WithInboxLogger(components.Logger))
	failed := 0
	for _, f := range files {
		doc, err := inbox.Ingest(context.Background(), f)
		switch {
		case err != nil:
			failed++
			fmt.Printf("Failed %s: %v\n", f, err)
		case doc == nil:
			fmt.Printf("Skipped %s (unsupported type)\n", f)
		default:
			fmt.Printf("Accepted %s: %s\n", f, doc.ID)
		}
	}
	// Close waits for queued documents to finish processing.
	cleanup()
	if failed > 0 {
		os.Exit(1)
	}
}

func uploadViaHTTP(serverURL, session string, files []string) ([]*models.Document, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		part, err := mw.CreateFormFile("files", filepath.Base(f))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/documents", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	var out struct {
		Documents []*models.Document `json:"documents"`
	}
	if err := doJSON(req, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Status         string                 `json:"status"`
	Checks         map[string]string      `json:"checks"`
	Documents      int64                  `json:"documents"`
	Chunks         int64                  `json:"chunks"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommandFlags(fs)
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *common.serverURL != "" {
		req, _ := http.NewRequest(http.MethodGet, *common.serverURL+"/api/v1/status", nil)
		if err := doJSON(req, http.StatusOK, &status); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, cfg, cleanup := directComponents(*common.configPath)
		defer cleanup()
		ctx := context.Background()
		status = statusResponse{Status: "ok", Checks: map[string]string{"store": "ok", "blob_store": "ok"}}
		if err := components.Storage.Ping(ctx); err != nil {
			status.Status, status.Checks["store"] = "degraded", err.Error()
		}
		if err := components.Blobs.Ping(ctx); err != nil {
			status.Status, status.Checks["blob_store"] = "degraded", err.Error()
		}
		status.Documents, _ = components.Storage.CountDocuments(ctx, "")
		status.Chunks, _ = components.Storage.CountChunks(ctx)
		if usage, err := storage.MeasureDiskUsage(cfg.Storage, cfg.Blob); err == nil {
			total := usage.Total()
			status.DiskUsageBytes = &total
		}
		status.Config = map[string]interface{}{
			"storage_driver":       cfg.Storage.Driver,
			"blob_driver":          cfg.Blob.Driver,
			"embedding_provider":   cfg.Embedding.Provider,
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"chunk_size":           cfg.Ingest.ChunkSize,
			"chunk_overlap":        cfg.Ingest.ChunkOverlap,
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("status:             %s\n", status.Status)
		for name, check := range status.Checks {
			fmt.Printf("  %-17s %s\n", name+":", check)
		}
		fmt.Printf("documents:          %d   # uploaded documents, all sessions\n", status.Documents)
		fmt.Printf("chunks:             %d   # embedded chunks\n", status.Chunks)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:   %d   # database, keyword index and local blobs\n", *status.DiskUsageBytes)
		}
		if len(status.Config) > 0 {
			fmt.Println()
			fmt.Println("# configuration")
			for _, key := range []string{"storage_driver", "blob_driver", "embedding_provider", "embedding_dimensions", "chunk_size", "chunk_overlap"} {
				if v, ok := status.Config[key]; ok {
					fmt.Printf("%-19s %v\n", key+":", v)
				}
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: docsight watch <add|remove|list> [path]")
		fmt.Println("  docsight watch add <path>     Add inbox directory")
		fmt.Println("  docsight watch remove <path>  Remove inbox directory")
		fmt.Println("  docsight watch list           List inbox directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])
	endpoint := *serverURL + "/api/v1/watch/directories"
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: docsight watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		req, _ := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if err := doJSON(req, http.StatusCreated, nil); err != nil {
			fmt.Printf("Add failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: docsight watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, endpoint+"?path="+url.QueryEscape(path), nil)
		if err := doJSON(req, http.StatusOK, nil); err != nil {
			fmt.Printf("Remove failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		req, _ := http.NewRequest(http.MethodGet, endpoint, nil)
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := doJSON(req, http.StatusOK, &out); err != nil {
			fmt.Printf("List failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	common := addCommandFlags(fs)
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: docsight delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	if *common.serverURL != "" {
		req, _ := http.NewRequest(http.MethodDelete, *common.serverURL+"/api/v1/documents/"+url.PathEscape(docID), nil)
		if *common.session != "" {
			req.Header.Set(sessionHeader, *common.session)
		}
		if err := doJSON(req, http.StatusOK, nil); err != nil {
			fmt.Printf("Deletion failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, _, cleanup := directComponents(*common.configPath)
		defer cleanup()
		if err := components.Pipeline.Delete(context.Background(), docID); err != nil {
			fmt.Printf("Deletion failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

// directComponents loads config and builds in-process components for client commands run
// without a server. It exits on failure.
func directComponents(configPath string) (*Components, *config.Config, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return components, cfg, func() {
		components.Close()
		_ = logger.Sync()
	}
}

// Components holds initialized services.
type Components struct {
	Logger       *zap.Logger
	Storage      storage.Storage
	Blobs        blob.Store
	Embedder     embedding.Embedder
	KeywordIndex keyword.Index
	LLM          *llm.Client
	Pipeline     *pipeline.Pipeline
	Engine       *search.Engine
	Chat         *answer.ChatService
}

// Close stops the pipeline, waiting for queued documents, then releases the stores.
func (c *Components) Close() {
	if c.Pipeline != nil {
		c.Pipeline.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := storage.NewPostgresStorage(ctx, cfg.ResolvePostgresDSN())
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.DriverSQLite, "":
		lite, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case config.BlobMinio:
		s3, err := blob.NewMinioStore(ctx, blob.MinioOptions{
			Endpoint:      cfg.Minio.Endpoint,
			AccessKey:     config.Secret(cfg.Minio.AccessKeyEnv),
			SecretKey:     config.Secret(cfg.Minio.SecretKeyEnv),
			Bucket:        cfg.Minio.Bucket,
			UseSSL:        cfg.Minio.UseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	case config.BlobLocal, "":
		local, err := blob.NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	ec := cfg.Embedding
	var inner embedding.Embedder
	switch ec.Provider {
	case config.ProviderOpenAI, "":
		inner = embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    ec.BaseURL,
			APIKey:     config.Secret(ec.APIKeyEnv),
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			BatchSize:  ec.BatchSize,
			MaxRetries: ec.MaxRetries,
			Timeout:    cfg.LLM.Timeout(),
		}, embedding.WithLogger(logger))
	case config.ProviderONNX:
		onnx, err := embedding.NewONNXEmbedder(ec.ModelPath, ec.Dimensions, ec.MaxTokens)
		if err != nil {
			return nil, err
		}
		inner = onnx
	case config.ProviderMock:
		inner = embedding.NewMockEmbedder(ec.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ec.Provider)
	}
	if ec.CacheSize > 0 {
		return embedding.NewCachedEmbedder(inner, ec.CacheSize), nil
	}
	return inner, nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	ctx := context.Background()
	logger = utils.LoggerOrNop(logger)
	c := &Components{Logger: logger}
	ready := false
	defer func() {
		if !ready {
			c.Close()
		}
	}()

	var err error
	if c.Storage, err = newStorage(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if c.Blobs, err = newBlobStore(ctx, cfg.Blob); err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	if c.Embedder, err = newEmbedder(cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if cfg.Storage.BleveIndexPath != "" {
		idx, kwErr := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
		if kwErr != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", kwErr)
		}
		c.KeywordIndex = idx
	}

	c.LLM = llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      config.Secret(cfg.LLM.APIKeyEnv),
		Model:       cfg.LLM.Model,
		VisionModel: cfg.LLM.VisionModel,
		Timeout:     cfg.LLM.Timeout(),
		MaxRetries:  cfg.Embedding.MaxRetries,
	}, llm.WithLogger(logger))

	splitter, err := chunker.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}
	p, err := pipeline.New(pipeline.Deps{
		Store:     c.Storage,
		Blobs:     c.Blobs,
		Extractor: extract.NewExtractor(c.LLM, extract.WithLogger(logger)),
		Splitter:  splitter,
		Embedder:  c.Embedder,
		Completer: c.LLM,
		Keyword:   c.KeywordIndex,
	}, pipeline.Config{
		MaxFileSize:      cfg.Ingest.MaxFileSize,
		Workers:          cfg.Ingest.Workers,
		QueueSize:        cfg.Ingest.QueueSize,
		EmbedConcurrency: cfg.Ingest.EmbedConcurrency,
		EmbedBatchSize:   cfg.Embedding.BatchSize,
	}, pipeline.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	c.Pipeline = p

	c.Engine = search.NewEngine(c.Storage, c.Embedder, c.KeywordIndex, cfg.Search, search.WithLogger(logger))
	synth := answer.NewSynthesizer(c.LLM, answer.WithSynthesizerLogger(logger))
	c.Chat = answer.NewChatService(c.Storage, c.Engine, synth, answer.WithLogger(logger))
	ready = true
	return c, nil
}

func printUsage() {
	fmt.Println(`docsight - Document upload, retrieval and grounded answers

Usage:
  docsight server [flags]               Start the HTTP server and inbox watcher
  docsight ingest [flags] <path>...     Upload files or directories
  docsight search [flags] <query>       Search uploaded documents
  docsight ask [flags] <question>       Answer a question from uploaded documents
  docsight delete [flags] <id>          Delete a document
  docsight status [flags]               Show store health and counts
  docsight watch <add|remove|list>      Manage inbox directories
  docsight version                      Show version
  docsight help                         Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/docsight/config.yaml)
  --debug            Enable debug logging

Client Flags (ingest, search, ask, delete, status):
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to run in-process.
  --session string   Session id to act as (default: ingest.default_user)

Search and Ask Flags:
  --type string          semantic, keyword, or hybrid (default: semantic)
  --limit int            Maximum results (default from config)
  --threshold float      Minimum similarity in [0,1] (default from config)
  --content-type string  Restrict to text, document, or image
  --tags string          Comma-separated tags; results must carry at least one
  --output string        text, compact (search only), or json

Examples:
  docsight server
  docsight ingest ~/Documents/reports
  docsight search "quarterly revenue"
  docsight search --type hybrid --output json "invoice from acme"
  docsight ask "what did the auditors flag?"
  docsight status --output json
  docsight watch add /path/to/inbox
  docsight watch list`)
}
