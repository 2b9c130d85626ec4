package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doctrove/doctrove/internal/config"
	"github.com/doctrove/doctrove/internal/docs"
	"github.com/doctrove/doctrove/internal/llm"
	"github.com/doctrove/doctrove/internal/llmutil"
	"github.com/doctrove/doctrove/internal/metadata"
	"github.com/doctrove/doctrove/internal/observability"
	"github.com/doctrove/doctrove/internal/readers"
	"github.com/doctrove/doctrove/internal/secrets"
	"github.com/doctrove/doctrove/internal/server"
	"github.com/doctrove/doctrove/internal/vector"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "doctrove",
		Short: "Retrieval-augmented question answering over a document collection",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/doctrove.yaml", "Config file path")

	var (
		addJSON bool
	)
	addCmd := &cobra.Command{
		Use:   "add [files...]",
		Short: "Ingest documents and report their resolved identities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(configPath, args, addJSON)
		},
	}
	addCmd.Flags().BoolVar(&addJSON, "json", false, "Output results as JSON")

	var (
		askInputs     []string
		askK          int
		askMaxSources int
		askGroup      bool
		askJSON       bool
	)
	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ingest documents and answer a question from their evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(configPath, args[0], askInputs, askK, askMaxSources, askGroup, askJSON)
		},
	}
	askCmd.Flags().StringSliceVar(&askInputs, "input", nil, "Document files to ingest")
	askCmd.Flags().IntVar(&askK, "k", 0, "Evidence retrieval count (default from config)")
	askCmd.Flags().IntVar(&askMaxSources, "max-sources", 0, "Maximum sources in the answer prompt")
	askCmd.Flags().BoolVar(&askGroup, "group", false, "Group context by sub-question")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Output the session as JSON")
	_ = askCmd.MarkFlagRequired("input")

	var serveAddr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the collection over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, serveAddr)
		},
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-14s %s\n", name, url)
			}
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in doctrove.yaml or via environment:")
			fmt.Println("  DOCTROVE_LLM_PROVIDER=openai")
			fmt.Println("  DOCTROVE_LLM_API_KEY=sk-...")
			fmt.Println("  DOCTROVE_LLM_MODEL=gpt-4o")
		},
	}

	rootCmd.AddCommand(addCmd, askCmd, serveCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// engine bundles everything one command run needs.
type engine struct {
	cfg        *config.Config
	collection *docs.Collection
	store      vector.Store
	provider   llm.Provider
	summarizer docs.Summarizer
	embedder   docs.Embedder
	metadata   docs.MetadataProvider
	tracing    *observability.TracerProvider
	logger     *slog.Logger
}

func buildEngine(ctx context.Context, configPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config load failed (%v), using defaults\n", err)
		cfg = &config.Config{}
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	tracing, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  "doctrove",
		Environment:  cfg.Tracing.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	if cfg.Audit.Enabled {
		if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Audit.Path,
		}); err != nil {
			return nil, fmt.Errorf("initializing audit log: %w", err)
		}
	}

	// API keys absent from the config file can come from the secrets
	// backend (DOCTROVE_LLM_API_KEY with the default env provider).
	if cfg.LLM.APIKey == "" {
		if err := secrets.Init(nil); err == nil {
			cfg.LLM.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretLLMAPIKey), "")
		}
	}

	factory := llm.NewFactory()
	llmutil.RegisterDefaultProviders(factory)

	provider, err := createProvider(factory, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("an LLM provider is required; configure llm.provider")
	}

	summaryProvider := provider
	if cfg.LLM.Roles != nil {
		if sp, err := createProvider(factory, cfg.LLM.ResolveForRole("summary")); err == nil && sp != nil {
			summaryProvider = sp
		}
	}

	var store vector.Store
	switch cfg.Index.Backend {
	case "", "memory":
		store = vector.NewMemory()
	case "qdrant":
		collection := cfg.Index.Collection
		if collection == "" {
			collection = "doctrove"
		}
		q, err := vector.NewQdrant(ctx, cfg.Index.Host, cfg.Index.Port, collection)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		store = q
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}

	var meta docs.MetadataProvider
	if cfg.Metadata.Enabled {
		meta = metadata.NewCrossref("", cfg.Metadata.Mailto)
	}

	return &engine{
		cfg: cfg,
		collection: docs.NewCollection(&docs.CollectionConfig{
			Index:  store,
			Logger: logger,
		}),
		store:    store,
		provider: provider,
		summarizer: &docs.LLMSummarizer{
			Provider: summaryProvider,
			Options:  requestOptions(cfg.LLM),
			Logger:   logger,
		},
		embedder: provider,
		metadata: meta,
		tracing:  tracing,
		logger:   logger,
	}, nil
}

func createProvider(factory *llm.ProviderFactory, llmCfg config.LLMConfig) (llm.Provider, error) {
	return factory.Create(llm.ProviderConfig{
		Provider:   llmCfg.Provider,
		APIKey:     llmCfg.APIKey,
		Model:      llmCfg.Model,
		BaseURL:    llmCfg.BaseURL,
		EmbedModel: llmCfg.EmbedModel,
	})
}

func requestOptions(llmCfg config.LLMConfig) *llm.RequestOptions {
	if llmCfg.MaxTokens <= 0 && llmCfg.Temperature == 0 {
		return nil
	}
	opts := &llm.RequestOptions{}
	if llmCfg.MaxTokens > 0 {
		opts.MaxTokens = llm.IntPtr(llmCfg.MaxTokens)
	}
	if llmCfg.Temperature > 0 {
		opts.Temperature = llm.Float64Ptr(llmCfg.Temperature)
	}
	return opts
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func runAdd(configPath string, paths []string, jsonOut bool) error {
	ctx := context.Background()
	e, err := buildEngine(ctx, configPath)
	if err != nil {
		return err
	}
	defer e.tracing.Shutdown(ctx)

	type result struct {
		Path    string `json:"path"`
		Docname string `json:"docname,omitempty"`
		Added   bool   `json:"added"`
	}
	var results []result
	for _, path := range paths {
		docname, added, err := e.addOne(ctx, path)
		if err != nil {
			return err
		}
		results = append(results, result{Path: path, Docname: docname, Added: added})
	}

	if jsonOut {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	for _, r := range results {
		if !r.Added {
			fmt.Printf("  %-40s already present, skipped\n", r.Path)
			continue
		}
		fmt.Printf("  %-40s added as %s\n", r.Path, r.Docname)
	}
	return nil
}

func (e *engine) addOne(ctx context.Context, path string) (string, bool, error) {
	reader, err := readers.ForPath(path, e.cfg.Parsing.ChunkSize, e.cfg.Parsing.Overlap)
	if err != nil {
		return "", false, err
	}
	return e.collection.AddFile(ctx, path, &docs.AddOptions{
		Reader:         reader,
		Provider:       e.provider,
		RequestOptions: requestOptions(e.cfg.LLM),
		Metadata:       e.metadata,
		Logger:         e.logger,
	})
}

// queryOptions assembles one Query call's options from config, with
// zero values meaning "use the configured default".
func (e *engine) queryOptions(k, maxSources int, group bool) *docs.QueryOptions {
	if k <= 0 {
		k = e.cfg.Answer.EvidenceK
	}
	if maxSources <= 0 {
		maxSources = e.cfg.Answer.MaxSources
	}
	return &docs.QueryOptions{
		Provider:        e.provider,
		RequestOptions:  requestOptions(e.cfg.LLM),
		MaxSources:      maxSources,
		CutoffScore:     e.cfg.Answer.CutoffScore,
		AnswerLength:    e.cfg.Answer.AnswerLength,
		GroupByQuestion: group || e.cfg.Answer.GroupByQuestion,
		Gather: &docs.GatherOptions{
			K:             k,
			MaxConcurrent: e.cfg.Answer.MaxConcurrent,
			SummaryLength: e.cfg.Answer.SummaryLength,
			MMRLambda:     float32(e.cfg.Index.MMRLambda),
			Embedder:      e.embedder,
			Summarizer:    e.summarizer,
		},
	}
}

func runAsk(configPath, question string, inputs []string, k, maxSources int, group, jsonOut bool) error {
	ctx := context.Background()
	e, err := buildEngine(ctx, configPath)
	if err != nil {
		return err
	}
	defer e.tracing.Shutdown(ctx)

	for _, path := range inputs {
		docname, added, err := e.addOne(ctx, path)
		if err != nil {
			return err
		}
		if added {
			e.logger.Info("ingested document", "path", path, "docname", docname)
		}
	}

	session := docs.NewSession(question)
	if err := e.collection.Query(ctx, session, e.queryOptions(k, maxSources, group)); err != nil {
		return err
	}

	if jsonOut {
		data, _ := json.MarshalIndent(session, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(session.Answer)
	if len(session.References) > 0 {
		fmt.Println("\nReferences:")
		for _, ref := range session.References {
			fmt.Printf("  %s: %s\n", ref.Key, ref.Citation)
		}
	}
	fmt.Printf("\nTokens used: %d\n", session.TotalTokens())
	return nil
}

// apiEngine adapts the CLI engine to the HTTP API.
type apiEngine struct {
	*engine
}

func (a *apiEngine) AddDocument(ctx context.Context, r io.Reader, source string) (string, bool, error) {
	reader, err := readers.ForPath(source, a.cfg.Parsing.ChunkSize, a.cfg.Parsing.Overlap)
	if err != nil {
		return "", false, err
	}
	return a.collection.Add(ctx, r, source, &docs.AddOptions{
		Reader:         reader,
		Provider:       a.provider,
		RequestOptions: requestOptions(a.cfg.LLM),
		Metadata:       a.metadata,
		Logger:         a.logger,
	})
}

func (a *apiEngine) Ask(ctx context.Context, question string) (*server.AskResult, error) {
	session := docs.NewSession(question)
	if err := a.collection.Query(ctx, session, a.queryOptions(0, 0, false)); err != nil {
		return nil, err
	}

	result := &server.AskResult{
		Question: session.Question,
		Answer:   session.Answer,
	}
	for _, ref := range session.References {
		result.References = append(result.References, server.ReferenceInfo{
			Key:      ref.Key,
			Citation: ref.Citation,
		})
	}
	for _, c := range session.Contexts {
		result.Contexts = append(result.Contexts, server.ContextInfo{
			ID:      c.ID,
			Score:   c.Score,
			Summary: c.Content,
		})
	}
	if len(session.TokenCounts) > 0 {
		result.Tokens = make(map[string][2]int, len(session.TokenCounts))
		for model, tc := range session.TokenCounts {
			result.Tokens[model] = [2]int{tc.Prompt, tc.Completion}
		}
	}
	return result, nil
}

func (a *apiEngine) ListDocuments() []server.DocumentInfo {
	var infos []server.DocumentInfo
	for _, d := range a.collection.Docs() {
		infos = append(infos, server.DocumentInfo{
			Docname:  d.Docname,
			Dockey:   d.Dockey,
			Citation: d.Citation,
		})
	}
	return infos
}

func (a *apiEngine) DeleteDocument(docname string) {
	a.collection.DeleteByName(docname)
}

func runServe(configPath, addr string) error {
	ctx := context.Background()
	e, err := buildEngine(ctx, configPath)
	if err != nil {
		return err
	}

	api := server.NewAPI(&apiEngine{e}, e.logger)
	health := server.NewHealthServer(&server.HealthConfig{Version: "0.1.0"})
	health.RegisterCheck("collection", server.CollectionHealthChecker(e.collection.Len))
	providerName := ""
	if e.provider != nil {
		providerName = e.provider.Name()
	}
	health.RegisterCheck("llm", server.LLMHealthChecker(providerName, nil))
	health.SetReady(true)

	mux := http.NewServeMux()
	mux.Handle("/v1/", api.Handler())
	mux.Handle("/metrics", observability.Metrics().Handler())
	healthHandler := health.Handler()
	for _, p := range []string{"/health", "/ready", "/live", "/healthz", "/readyz", "/livez"} {
		mux.Handle(p, healthHandler)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	shutdown := server.NewShutdownHandler(nil)
	shutdown.RegisterHook("http-server", 10, func(ctx context.Context) error {
		health.SetReady(false)
		return srv.Shutdown(ctx)
	})
	shutdown.RegisterHook("tracing", 80, e.tracing.Shutdown)
	if closer, ok := e.store.(io.Closer); ok {
		hook := server.IndexShutdownHook(closer.Close)
		shutdown.RegisterHook(hook.Name, hook.Priority, hook.Fn)
	}
	shutdown.RegisterHook("audit-log", 95, func(ctx context.Context) error {
		return observability.Audit().Close()
	})
	shutdown.Start()

	e.logger.Info("serving", "addr", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("server failed", "error", err)
			shutdown.Shutdown()
		}
	}()

	shutdown.Wait()
	return nil
}
