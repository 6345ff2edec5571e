package cli

import (
	"context"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/engram/pkg/adapter"
	"github.com/m-mizutani/engram/pkg/repository"
	"github.com/m-mizutani/engram/pkg/service/dispatch"
	"github.com/m-mizutani/engram/pkg/service/memory"
	"github.com/m-mizutani/engram/pkg/service/policy"
	"github.com/m-mizutani/engram/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values shared across commands
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Vector index
	index       string
	project     string
	database    string
	collection  string
	chromemPath string

	// Embedding provider
	embedder       string
	geminiProject  string
	geminiLocation string
	embeddingModel string
	embeddingDims  int64

	// LLMs
	decisionModel   string
	anthropicAPIKey string
	claudeModel     string

	openaiAPIKey  string
	openaiBaseURL string

	// Engine knobs
	topK           int64
	timeout        time.Duration
	retries        int64
	dedupThreshold float64
	userID         string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("ENGRAM_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("ENGRAM_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "index",
			Usage:       "Vector index backend (chromem, firestore)",
			Value:       "chromem",
			Sources:     cli.EnvVars("ENGRAM_INDEX"),
			Destination: &cfg.index,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID (firestore index)",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Name of the note collection in the vector index",
			Value:       "memories",
			Sources:     cli.EnvVars("ENGRAM_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.StringFlag{
			Name:        "chromem-path",
			Usage:       "Persistence path for the chromem index (empty: in-memory)",
			Sources:     cli.EnvVars("ENGRAM_CHROMEM_PATH"),
			Destination: &cfg.chromemPath,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Usage:       "Owner scope applied to stored and recalled notes",
			Sources:     cli.EnvVars("ENGRAM_USER_ID"),
			Destination: &cfg.userID,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Default number of recall matches",
			Value:       5,
			Sources:     cli.EnvVars("ENGRAM_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "Timeout for each embedding or index call",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("ENGRAM_TIMEOUT"),
			Destination: &cfg.timeout,
		},
		&cli.IntFlag{
			Name:        "retries",
			Usage:       "Total attempts for retryable calls",
			Value:       3,
			Sources:     cli.EnvVars("ENGRAM_RETRIES"),
			Destination: &cfg.retries,
		},
		&cli.FloatFlag{
			Name:        "dedup-threshold",
			Usage:       "Similarity above which a store becomes a no-op (0: disabled)",
			Sources:     cli.EnvVars("ENGRAM_DEDUP_THRESHOLD"),
			Destination: &cfg.dedupThreshold,
		},
	}
}

// embeddingFlags returns flags for embedding provider configuration
func embeddingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding provider (gemini, openai)",
			Value:       "gemini",
			Sources:     cli.EnvVars("ENGRAM_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Sources:     cli.EnvVars("ENGRAM_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimensions",
			Usage:       "Embedding output dimensionality",
			Value:       768,
			Sources:     cli.EnvVars("ENGRAM_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.embeddingDims,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key (openai embedder)",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "Base URL of an OpenAI-compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
	}
}

// llmFlags returns flags for LLM-related configuration
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "decision-model",
			Usage:       "Gemini model used for memory decisions",
			Sources:     cli.EnvVars("ENGRAM_DECISION_MODEL"),
			Destination: &cfg.decisionModel,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model used for response generation",
			Sources:     cli.EnvVars("ENGRAM_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
	}
}

// setupLogger builds the logger and attaches it to the context
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, cfg.logFormat, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if cfg.decisionModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.decisionModel))
	}
	if cfg.embeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
	}
	if cfg.embeddingDims > 0 {
		opts = append(opts, adapter.WithEmbeddingDimensions(int(cfg.embeddingDims)))
	}

	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newEmbedder creates the configured embedding provider
func (cfg *config) newEmbedder(ctx context.Context) (adapter.Embedder, error) {
	switch cfg.embedder {
	case "gemini":
		return cfg.newGemini(ctx)

	case "openai":
		if cfg.openaiAPIKey == "" {
			return nil, goerr.New("openai-api-key is required")
		}
		var opts []adapter.OpenAIOption
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithOpenAIModel(cfg.embeddingModel))
		}
		if cfg.embeddingDims > 0 {
			opts = append(opts, adapter.WithOpenAIDimensions(int(cfg.embeddingDims)))
		}
		return adapter.NewOpenAIEmbedder(cfg.openaiAPIKey, cfg.openaiBaseURL, opts...), nil

	default:
		return nil, goerr.New("unsupported embedder", goerr.V("embedder", cfg.embedder))
	}
}

// newIndex creates the configured vector index backend
func (cfg *config) newIndex(ctx context.Context) (repository.VectorIndex, error) {
	switch cfg.index {
	case "chromem":
		return repository.NewChromem(cfg.chromemPath, cfg.collection)

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required for the firestore index")
		}
		return repository.NewFirestore(ctx, cfg.project, cfg.database, cfg.collection)

	default:
		return nil, goerr.New("unsupported index backend", goerr.V("index", cfg.index))
	}
}

// newStore wires the embedder and index into a memory store
func (cfg *config) newStore(ctx context.Context) (*memory.Store, error) {
	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	index, err := cfg.newIndex(ctx)
	if err != nil {
		return nil, err
	}

	return memory.New(embedder, index, memory.Config{
		TopK:           int(cfg.topK),
		Timeout:        cfg.timeout,
		MaxAttempts:    int(cfg.retries),
		DedupThreshold: cfg.dedupThreshold,
		UserID:         cfg.userID,
	}), nil
}

// newPolicy creates the decision policy on the Gemini adapter
func (cfg *config) newPolicy(ctx context.Context) (*policy.Policy, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}
	return policy.New(gemini), nil
}

// newClaude creates a new Claude adapter instance
func (cfg *config) newClaude() (adapter.Claude, error) {
	if cfg.anthropicAPIKey == "" {
		return nil, goerr.New("anthropic-api-key is required")
	}

	var opts []adapter.ClaudeOption
	if cfg.claudeModel != "" {
		opts = append(opts, adapter.WithClaudeModel(anthropic.Model(cfg.claudeModel)))
	}
	return adapter.NewClaude(cfg.anthropicAPIKey, opts...), nil
}

// newDispatcher builds a dispatcher over the local memory store
func (cfg *config) newDispatcher(ctx context.Context) (*dispatch.Dispatcher, error) {
	store, err := cfg.newStore(ctx)
	if err != nil {
		return nil, err
	}
	return dispatch.New(memory.NewExecutor(store)), nil
}
