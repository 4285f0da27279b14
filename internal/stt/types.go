package stt

import (
	"context"
	"io"
)

// Transcriber turns a complete audio payload into text.
// Implementations may block for a long time and may fail; callers decide
// whether a failure is fatal.
type Transcriber interface {
	// Transcribe reads the whole of audio and returns its transcript.
	// filename carries the container extension (e.g. ".webm") to the backend.
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// TranscriberFunc adapts a plain function to the Transcriber interface
type TranscriberFunc func(ctx context.Context, audio io.Reader, filename string) (string, error)

// Transcribe calls f
func (f TranscriberFunc) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	return f(ctx, audio, filename)
}
