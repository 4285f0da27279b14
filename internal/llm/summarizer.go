package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/observability"
)

// ErrCredentialRequired is returned before any upstream call when no API key is supplied
var ErrCredentialRequired = errors.New("API Key is required")

const promptTemplate = `You are a professional meeting assistant.
Here is the transcript of a meeting:
%s

Please summarize the meeting content structure as follows:
1. One-sentence summary
2. Key Topics (Bullet points)
3. Action Items (Who needs to do what)
4. Detailed Notes`

// Summarizer sends transcript text to an OpenAI-compatible chat endpoint (OpenRouter by default).
// The credential is per request, so a client is built for every call.
type Summarizer struct {
	baseURL      string
	defaultModel string
	temperature  float32
	timeout      time.Duration
}

// NewSummarizer creates a summarizer from config
func NewSummarizer(cfg *config.Config) *Summarizer {
	return &Summarizer{
		baseURL:      cfg.SummaryBaseURL,
		defaultModel: cfg.SummaryDefaultModel,
		temperature:  cfg.SummaryTemperature,
		timeout:      cfg.SummaryTimeout,
	}
}

// DefaultModel returns the model used when the caller leaves it empty
func (s *Summarizer) DefaultModel() string {
	return s.defaultModel
}

// Summarize produces a structured meeting summary of text
func (s *Summarizer) Summarize(ctx context.Context, text, apiKey, model string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrCredentialRequired
	}
	if model == "" {
		model = s.defaultModel
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = s.baseURL
	client := openai.NewClientWithConfig(clientCfg)

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: s.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(promptTemplate, text)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summary completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("summary completion returned no choices")
	}

	logger := observability.GetLogger()
	logger.Debug().
		Str("model", model).
		Int("input_chars", len(text)).
		Dur("latency", time.Since(start)).
		Msg("Summary generated")

	return resp.Choices[0].Message.Content, nil
}
