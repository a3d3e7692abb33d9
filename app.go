package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tanpawarit/chative-router/internal/agent/graph"
	"github.com/tanpawarit/chative-router/internal/agent/graph/conversations"
	"github.com/tanpawarit/chative-router/internal/agent/graph/grader"
	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/graph/observers"
	"github.com/tanpawarit/chative-router/internal/agent/graph/retrieval"
	"github.com/tanpawarit/chative-router/internal/agent/graph/rewriter"
	"github.com/tanpawarit/chative-router/internal/agent/graph/summarizer"
	"github.com/tanpawarit/chative-router/internal/agent/graph/tools"
	"github.com/tanpawarit/chative-router/internal/agent/graph/websearch"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	"github.com/tanpawarit/chative-router/internal/agent/repo"
	"github.com/tanpawarit/chative-router/internal/sandbox"
	"github.com/tanpawarit/chative-router/internal/search"
	"github.com/tanpawarit/chative-router/internal/vectorstore"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
	pkgredis "github.com/tanpawarit/chative-router/pkg/redis"
)

// AppConfig defines all configurable parameters, sourced from environment
// variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	Redis pkgredis.Config `ignored:"true"`

	Conversation model.ConversationConfig  `ignored:"true"`
	Router       model.RouterModelConfig   `ignored:"true"`
	Utility      model.UtilityModelConfig  `ignored:"true"`
	ToolModel    model.ToolModelConfig     `ignored:"true"`
	Response     model.ResponseModelConfig `ignored:"true"`
	LLM          model.LLMCallConfig       `ignored:"true"`
	Search       model.WebSearchConfig     `ignored:"true"`
	Retrieval    model.RetrievalConfig     `ignored:"true"`
	Tools        model.ToolsConfig         `ignored:"true"`
	HTTP         model.HTTPConfig          `ignored:"true"`
}

// loadConfig processes every section on its own so the variable names stay
// exactly as tagged instead of being prefixed by the field name.
func loadConfig() (*AppConfig, error) {
	var cfg AppConfig
	sections := []struct {
		prefix string
		target any
	}{
		{"", &cfg},
		{"REDIS", &cfg.Redis},
		{"", &cfg.Conversation},
		{"", &cfg.Router},
		{"", &cfg.Utility},
		{"", &cfg.ToolModel},
		{"", &cfg.Response},
		{"", &cfg.LLM},
		{"", &cfg.Search},
		{"", &cfg.Retrieval},
		{"", &cfg.Tools},
		{"", &cfg.HTTP},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return nil, fmt.Errorf("failed to process environment config: %w", err)
		}
	}
	return &cfg, nil
}

// App holds the wired assistant and the resources it owns.
type App struct {
	Assistant *graph.Assistant
	Sessions  *conversations.Manager

	rdb *goredis.Client
	db  *sql.DB
}

func (a *App) Ping(ctx context.Context) error {
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("vectorstore: %w", err)
		}
	}
	return nil
}

func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func buildApp(ctx context.Context, cfg *AppConfig) (_ *App, err error) {
	app := &App{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.rdb, err = cfg.Redis.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
	}
	app.Sessions = conversations.NewManager(repo.NewRedisSessionStore(app.rdb, cfg.Conversation.TTL))

	client, err := nodes.NewGenaiClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	cms, err := nodes.NewChatModels(ctx, client, nodes.ChatModelConfig{
		Router:   &cfg.Router,
		Utility:  &cfg.Utility,
		Tools:    &cfg.ToolModel,
		Response: &cfg.Response,
	})
	if err != nil {
		return nil, err
	}
	inv := nodes.NewInvoker(cfg.LLM)

	provider, err := search.New(cfg.Search)
	if err != nil {
		return nil, err
	}
	web, err := websearch.New(ctx,
		rewriter.New(cms.Utility, inv, cms.UtilityModelName, rewriter.VariantWebSearch, rewriter.Config{}),
		provider,
		grader.New(cms.Utility, inv, cms.UtilityModelName, grader.KindSearchResult),
		websearch.Config{MaxIterations: cfg.Search.MaxIterations},
	)
	if err != nil {
		return nil, err
	}

	var docs graph.DocumentRetriever
	if cfg.Retrieval.DatabaseURL != "" {
		app.db, err = vectorstore.Open(ctx, cfg.Retrieval.DatabaseURL)
		if err != nil {
			return nil, err
		}
		docs, err = retrieval.New(ctx,
			rewriter.New(cms.Utility, inv, cms.UtilityModelName, rewriter.VariantVectorstore, rewriter.Config{
				CorpusLanguage:    cfg.Retrieval.CorpusLanguage,
				CorpusDescription: cfg.Retrieval.CorpusDescription,
			}),
			vectorstore.NewRetriever(
				vectorstore.NewGenaiEmbedder(client, cfg.Retrieval.EmbeddingModel, cfg.Retrieval.EmbeddingDimensions),
				vectorstore.NewStore(app.db, cfg.Retrieval.Collection),
				cfg.Retrieval.Timeout,
			),
			grader.New(cms.Utility, inv, cms.UtilityModelName, grader.KindDocument),
			retrieval.Config{
				MaxIterations:    cfg.Retrieval.MaxIterations,
				TopK:             cfg.Retrieval.TopK,
				GradeConcurrency: cfg.Retrieval.GradeConcurrency,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		logx.Warn().Msg("RETRIEVAL_DATABASE_URL is not set, vectorstore questions are answered directly")
	}

	deps := tools.Deps{}
	if cfg.Tools.CodeExecEnabled {
		deps.Executor = sandbox.NewPython(sandbox.Config{
			PythonBin:      cfg.Tools.PythonBin,
			Timeout:        cfg.Tools.CodeTimeout,
			MaxOutputBytes: cfg.Tools.MaxOutputBytes,
		})
	}
	toolRunner, err := tools.New(ctx, tools.Config{
		Chat:      cms.Tools,
		ModelName: cms.ToolsModelName,
		Tools:     tools.NewRegistry(cfg.Tools, deps),
		MaxCalls:  cfg.Tools.MaxCalls,
		Timeout:   cfg.LLM.Timeout * 2,
	})
	if err != nil {
		return nil, err
	}

	assistantCfg := graph.Config{
		Router:        cms.Router,
		RouterModel:   cms.RouterModelName,
		Response:      cms.Response,
		ResponseModel: cms.ResponseModelName,
		Invoker:       inv,
		Sessions:      app.Sessions,
		WebSearch:     web,
		Retrieval:     docs,
		Tools:         toolRunner,
		Callbacks:     []callbacks.Handler{observers.NewAllCallbacks()},
		Summarizer: summarizer.New(cms.Utility, inv, cms.UtilityModelName, summarizer.Config{
			Language:  cfg.Conversation.SummaryLanguage,
			Threshold: cfg.Conversation.SummarizeThreshold,
			KeepLast:  cfg.Conversation.KeepLast,
		}),
		CorpusDescription: cfg.Retrieval.CorpusDescription,
		ResponseLanguage:  cfg.Conversation.ResponseLanguage,
		TurnTimeout:       cfg.HTTP.TurnTimeout,
	}
	app.Assistant, err = graph.BuildAssistant(ctx, assistantCfg)
	if err != nil {
		return nil, err
	}

	logx.Info().
		Str("router_model", cms.RouterModelName).
		Str("response_model", cms.ResponseModelName).
		Str("search_provider", provider.Name()).
		Bool("vectorstore", docs != nil).
		Msg("assistant ready")
	return app, nil
}
