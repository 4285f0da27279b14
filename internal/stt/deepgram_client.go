package stt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/scribe-gateway/internal/config"
)

var deepgramInit sync.Once

// DeepgramClient implements Transcriber using Deepgram's pre-recorded API
type DeepgramClient struct {
	api      *prerecorded.Client
	model    string
	language string
}

// NewDeepgramClient creates a new Deepgram pre-recorded client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	deepgramInit.Do(listenClient.InitWithDefault)

	rest := listenClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})

	language := cfg.DeepgramLanguage
	if cfg.TranscribeLanguage != "" {
		language = cfg.TranscribeLanguage
	}

	return &DeepgramClient{
		api:      prerecorded.New(rest),
		model:    cfg.DeepgramModel,
		language: language,
	}
}

// Transcribe streams audio to Deepgram and joins the best alternative of every channel
func (d *DeepgramClient) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    d.language,
		Punctuate:   true,
		SmartFormat: true,
	}

	res, err := d.api.FromStream(ctx, audio, options)
	if err != nil {
		return "", fmt.Errorf("deepgram transcription of %s: %w", filename, err)
	}
	if res == nil || res.Results == nil {
		return "", nil
	}

	var parts []string
	for _, channel := range res.Results.Channels {
		if len(channel.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(channel.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
