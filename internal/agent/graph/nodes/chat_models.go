package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Router   *model.RouterModelConfig
	Utility  *model.UtilityModelConfig
	Tools    *model.ToolModelConfig
	Response *model.ResponseModelConfig
}

// ChatModels holds one Gemini model per role. Tools is the only model with bound tools.
type ChatModels struct {
	Router   *gemini.ChatModel
	Utility  *gemini.ChatModel
	Tools    *gemini.ChatModel
	Response *gemini.ChatModel

	RouterModelName   string
	UtilityModelName  string
	ToolsModelName    string
	ResponseModelName string
}

// NewGenaiClient creates the Gemini API client shared by chat models and the embedder.
func NewGenaiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates the router, utility, tool and response models.
func NewChatModels(ctx context.Context, client *genai.Client, config ChatModelConfig) (*ChatModels, error) {
	if client == nil {
		return nil, fmt.Errorf("gemini client is nil")
	}
	if config.Router == nil || config.Utility == nil || config.Tools == nil || config.Response == nil {
		return nil, fmt.Errorf("chat model config is incomplete")
	}

	// Classification and grading need short deterministic answers, so thinking is off.
	noThinking := &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(0))}

	router, err := newGemini(ctx, client, NodeRoute, config.Router.Model, config.Router.Temperature, config.Router.MaxTokens, noThinking)
	if err != nil {
		return nil, err
	}
	utility, err := newGemini(ctx, client, "utility", config.Utility.Model, config.Utility.Temperature, config.Utility.MaxTokens, noThinking)
	if err != nil {
		return nil, err
	}
	tools, err := newGemini(ctx, client, NodeToolChat, config.Tools.Model, config.Tools.Temperature, config.Tools.MaxTokens, nil)
	if err != nil {
		return nil, err
	}
	response, err := newGemini(ctx, client, NodeChat, config.Response.Model, config.Response.Temperature, config.Response.MaxTokens,
		&genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(2000))})
	if err != nil {
		return nil, err
	}

	return &ChatModels{
		Router:            router,
		Utility:           utility,
		Tools:             tools,
		Response:          response,
		RouterModelName:   config.Router.Model,
		UtilityModelName:  config.Utility.Model,
		ToolsModelName:    config.Tools.Model,
		ResponseModelName: config.Response.Model,
	}, nil
}

func newGemini(ctx context.Context, client *genai.Client, role, name string, temperature float32, maxTokens int, thinking *genai.ThinkingConfig) (*gemini.ChatModel, error) {
	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:         client,
		Model:          name,
		Temperature:    &temperature,
		MaxTokens:      &maxTokens,
		ThinkingConfig: thinking,
	})
	if err != nil {
		logx.Error().Err(err).Str("role", role).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating %s model: %w", role, err)
	}
	return cm, nil
}
