// Package provider builds eino chat models from configuration.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/MEKXH/opsdesk/internal/config"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

type providerName string

const (
	providerOpenRouter providerName = "openrouter"
	providerClaude     providerName = "claude"
	providerOpenAI     providerName = "openai"
	providerDeepSeek   providerName = "deepseek"
	providerOllama     providerName = "ollama"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	deepSeekBaseURL   = "https://api.deepseek.com/v1"
)

// fallbackOrder is tried when the model id carries no known provider prefix.
var fallbackOrder = []providerName{
	providerOpenRouter,
	providerClaude,
	providerOpenAI,
	providerDeepSeek,
	providerOllama,
}

// NewChatModel creates the agent's chat model.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, error) {
	return NewModel(ctx, cfg, cfg.Agent.Model)
}

// NewSummaryModel creates the model used for compaction. It falls back to
// the agent model when compaction.model is unset.
func NewSummaryModel(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, error) {
	name := strings.TrimSpace(cfg.Compaction.Model)
	if name == "" {
		name = cfg.Agent.Model
	}
	return NewModel(ctx, cfg, name)
}

// NewModel creates a chat model for modelID, e.g. "anthropic/claude-sonnet-4-5"
// or "ollama/llama3.1".
func NewModel(ctx context.Context, cfg *config.Config, modelID string) (model.ToolCallingChatModel, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	name, pcfg, err := resolveProvider(cfg, modelID)
	if err != nil {
		return nil, err
	}
	a := cfg.Agent
	modelName := providerModelName(name, modelID)

	switch name {
	case providerClaude:
		c := &claude.Config{
			APIKey:      pcfg.APIKey,
			Model:       modelName,
			MaxTokens:   a.MaxTokens,
			Temperature: toFloat32Ptr(a.Temperature),
		}
		if pcfg.BaseURL != "" {
			c.BaseURL = &pcfg.BaseURL
		}
		return claude.NewChatModel(ctx, c)
	case providerOllama:
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: strings.TrimRight(pcfg.BaseURL, "/"),
			Model:   modelName,
		})
	default:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:       modelName,
			APIKey:      pcfg.APIKey,
			BaseURL:     pcfg.BaseURL,
			Temperature: toFloat32Ptr(a.Temperature),
			MaxTokens:   toIntPtr(a.MaxTokens),
		})
	}
}

// resolveProvider prefers the provider named by the model prefix and
// otherwise takes the first configured one.
func resolveProvider(cfg *config.Config, modelID string) (providerName, config.ProviderConfig, error) {
	if name := providerFromModel(modelID); name != "" {
		pcfg, ok := providerConfig(cfg, name)
		if !ok {
			return "", config.ProviderConfig{}, fmt.Errorf("provider %s is not configured for model %q", name, modelID)
		}
		return name, pcfg, nil
	}
	for _, name := range fallbackOrder {
		if pcfg, ok := providerConfig(cfg, name); ok {
			return name, pcfg, nil
		}
	}
	return "", config.ProviderConfig{}, fmt.Errorf("no provider configured: set api_key for at least one provider")
}

func providerFromModel(modelID string) providerName {
	prefix, _, ok := strings.Cut(strings.TrimSpace(modelID), "/")
	if !ok {
		return ""
	}
	switch strings.ToLower(prefix) {
	case "anthropic", "claude":
		return providerClaude
	case "openai":
		return providerOpenAI
	case "deepseek":
		return providerDeepSeek
	case "ollama":
		return providerOllama
	case "openrouter":
		return providerOpenRouter
	default:
		return ""
	}
}

// providerModelName strips the routing prefix. OpenRouter keeps
// vendor-qualified ids.
func providerModelName(name providerName, modelID string) string {
	modelID = strings.TrimSpace(modelID)
	if name == providerOpenRouter {
		return strings.TrimPrefix(modelID, "openrouter/")
	}
	if providerFromModel(modelID) == "" {
		return modelID
	}
	_, rest, _ := strings.Cut(modelID, "/")
	return rest
}

func providerConfig(cfg *config.Config, name providerName) (config.ProviderConfig, bool) {
	p := cfg.Providers
	switch name {
	case providerOpenRouter:
		c := p.OpenRouter
		if c.BaseURL == "" {
			c.BaseURL = openRouterBaseURL
		}
		return c, c.APIKey != ""
	case providerClaude:
		return p.Claude, p.Claude.APIKey != ""
	case providerOpenAI:
		return p.OpenAI, p.OpenAI.APIKey != ""
	case providerDeepSeek:
		c := p.DeepSeek
		if c.BaseURL == "" {
			c.BaseURL = deepSeekBaseURL
		}
		return c, c.APIKey != ""
	case providerOllama:
		return p.Ollama, strings.TrimSpace(p.Ollama.BaseURL) != ""
	default:
		return config.ProviderConfig{}, false
	}
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
