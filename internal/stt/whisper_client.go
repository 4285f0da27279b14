package stt

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/scribe-gateway/internal/config"
)

// WhisperClient transcribes through an OpenAI-compatible /audio/transcriptions endpoint.
// Works against api.openai.com as well as self-hosted whisper servers.
type WhisperClient struct {
	client   *openai.Client
	model    string
	language string
}

// NewWhisperClient creates a client from the whisper section of the config
func NewWhisperClient(cfg *config.Config) *WhisperClient {
	clientCfg := openai.DefaultConfig(cfg.WhisperAPIKey)
	clientCfg.BaseURL = cfg.WhisperBaseURL

	return &WhisperClient{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.WhisperModel,
		language: cfg.TranscribeLanguage,
	}
}

// Transcribe uploads audio and returns the recognized text
func (w *WhisperClient) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   audio,
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return resp.Text, nil
}
