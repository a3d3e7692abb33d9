package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL                time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`
	SummarizeThreshold int           `envconfig:"CONVERSATION_SUMMARIZE_THRESHOLD" default:"6"`
	KeepLast           int           `envconfig:"CONVERSATION_KEEP_LAST" default:"2"`
	SummaryLanguage    string        `envconfig:"CONVERSATION_SUMMARY_LANGUAGE" default:"Korean"`
	ResponseLanguage   string        `envconfig:"CONVERSATION_RESPONSE_LANGUAGE" default:"the same language as the user's question"`
}

type RouterModelConfig struct {
	Model       string  `envconfig:"ROUTER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"ROUTER_MAX_TOKENS" default:"256"`
	Temperature float32 `envconfig:"ROUTER_TEMPERATURE" default:"0"`
}

// UtilityModelConfig drives grading, reformulation and summarization.
type UtilityModelConfig struct {
	Model       string  `envconfig:"UTILITY_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"UTILITY_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"UTILITY_TEMPERATURE" default:"0"`
}

type ToolModelConfig struct {
	Model       string  `envconfig:"TOOLS_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"TOOLS_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"TOOLS_TEMPERATURE" default:"0"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
}

// LLMCallConfig bounds every model call.
type LLMCallConfig struct {
	Timeout time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	Retries uint64        `envconfig:"LLM_RETRIES" default:"2"`
	Backoff time.Duration `envconfig:"LLM_RETRY_BACKOFF" default:"500ms"`
}

type WebSearchConfig struct {
	Provider      string        `envconfig:"SEARCH_PROVIDER" default:"duckduckgo"`
	SearxngURL    string        `envconfig:"SEARCH_SEARXNG_URL"`
	MaxIterations int           `envconfig:"SEARCH_MAX_ITERATIONS" default:"3"`
	MaxResults    int           `envconfig:"SEARCH_MAX_RESULTS" default:"10"`
	Region        string        `envconfig:"SEARCH_REGION" default:"wt-wt"`
	TimeRange     string        `envconfig:"SEARCH_TIME_RANGE" default:"y"`
	Timeout       time.Duration `envconfig:"SEARCH_TIMEOUT" default:"15s"`
}

type RetrievalConfig struct {
	DatabaseURL         string        `envconfig:"RETRIEVAL_DATABASE_URL"`
	Collection          string        `envconfig:"RETRIEVAL_COLLECTION" default:"langgraph_examples"`
	TopK                int           `envconfig:"RETRIEVAL_TOP_K" default:"10"`
	MaxIterations       int           `envconfig:"RETRIEVAL_MAX_ITERATIONS" default:"3"`
	CorpusLanguage      string        `envconfig:"RETRIEVAL_CORPUS_LANGUAGE" default:"Korean"`
	CorpusDescription   string        `envconfig:"RETRIEVAL_CORPUS_DESCRIPTION" default:"Korean tax law"`
	EmbeddingModel      string        `envconfig:"RETRIEVAL_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDimensions int32         `envconfig:"RETRIEVAL_EMBEDDING_DIMENSIONS" default:"1536"`
	GradeConcurrency    int           `envconfig:"RETRIEVAL_GRADE_CONCURRENCY" default:"4"`
	Timeout             time.Duration `envconfig:"RETRIEVAL_TIMEOUT" default:"10s"`
}

type ToolsConfig struct {
	MaxCalls        int           `envconfig:"TOOLS_MAX_CALLS" default:"10"`
	CodeExecEnabled bool          `envconfig:"TOOLS_CODE_EXEC_ENABLED" default:"true"`
	PythonBin       string        `envconfig:"TOOLS_PYTHON_BIN" default:"python3"`
	CodeTimeout     time.Duration `envconfig:"TOOLS_CODE_TIMEOUT" default:"10s"`
	MaxOutputBytes  int           `envconfig:"TOOLS_MAX_OUTPUT_BYTES" default:"16384"`
	WikipediaLang   string        `envconfig:"TOOLS_WIKIPEDIA_LANG" default:"en"`
	WikipediaURL    string        `envconfig:"TOOLS_WIKIPEDIA_URL"`
	Timeout         time.Duration `envconfig:"TOOLS_HTTP_TIMEOUT" default:"10s"`
	// Identity overrides the self-description returned by who_are_you.
	Identity string `envconfig:"TOOLS_IDENTITY"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	// TurnTimeout bounds one turn including the streamed answer.
	TurnTimeout     time.Duration `envconfig:"HTTP_TURN_TIMEOUT" default:"3m"`
	MaxMessageRunes int           `envconfig:"HTTP_MAX_MESSAGE_RUNES" default:"10000"`
}
