package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"replybot/internal/config"
	"replybot/internal/utils"
)

var ErrNoChoices = errors.New("openai returned no choices")

// OpenAIGenerator asks a chat model for the reply.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAIGenerator returns nil when the LLM is disabled or no key is set,
// which makes the resolver go straight to the fallback bank.
func NewOpenAIGenerator(cfg config.Config) Generator {
	if !cfg.UseOpenAI {
		return nil
	}
	if cfg.OpenAIAPIKey == "" {
		utils.Warn("use_openai is set but no api key configured; skipping LLM")
		return nil
	}
	return NewOpenAIGeneratorWithConfig(openai.DefaultConfig(cfg.OpenAIAPIKey), cfg.OpenAIModel, cfg.OpenAIRPS)
}

func NewOpenAIGeneratorWithConfig(clientCfg openai.ClientConfig, model string, rps float64) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	if rps <= 0 {
		rps = 1
	}
	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// MaxTokens is roughly two tokens per word, clamped to [32, 200].
func MaxTokens(maxWords int) int {
	return min(200, max(32, maxWords*2))
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxWords int) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	utils.Debug("openai request", "model", g.model, "max_tokens", MaxTokens(maxWords))
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   MaxTokens(maxWords),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
