package stt

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/resilience"
)

func TestPool_PassesThrough(t *testing.T) {
	var gotName, gotBody string
	backend := TranscriberFunc(func(ctx context.Context, audio io.Reader, filename string) (string, error) {
		data, _ := io.ReadAll(audio)
		gotBody = string(data)
		gotName = filename
		return "hello", nil
	})

	pool := NewPool(backend, 1, nil)
	text, err := pool.Transcribe(context.Background(), strings.NewReader("audio"), "clip.webm")
	if err != nil {
		t.Fatalf("Transcribe() failed: %v", err)
	}
	if text != "hello" {
		t.Errorf("Expected 'hello', got '%s'", text)
	}
	if gotBody != "audio" || gotName != "clip.webm" {
		t.Errorf("Expected backend to receive audio and filename, got '%s' '%s'", gotBody, gotName)
	}
}

func TestPool_LimitsConcurrency(t *testing.T) {
	var running, peak atomic.Int64
	backend := TranscriberFunc(func(ctx context.Context, audio io.Reader, filename string) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return "", nil
	})

	pool := NewPool(backend, 2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Transcribe(context.Background(), strings.NewReader(""), "x.webm")
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("Expected at most 2 concurrent invocations, got %d", peak.Load())
	}
	if pool.InFlight() != 0 {
		t.Errorf("Expected 0 in flight after completion, got %d", pool.InFlight())
	}
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	release := make(chan struct{})
	backend := TranscriberFunc(func(ctx context.Context, audio io.Reader, filename string) (string, error) {
		<-release
		return "", nil
	})
	pool := NewPool(backend, 1, nil)

	go pool.Transcribe(context.Background(), strings.NewReader(""), "busy.webm")
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := pool.Transcribe(ctx, strings.NewReader(""), "waiting.webm")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded while waiting for a worker, got %v", err)
	}
	close(release)
}

func TestPool_CircuitOpensAfterFailures(t *testing.T) {
	calls := 0
	backend := TranscriberFunc(func(ctx context.Context, audio io.Reader, filename string) (string, error) {
		calls++
		return "", errors.New("backend down")
	})

	breaker := resilience.NewBreaker(resilience.Settings{Name: "test", MaxFailures: 2, CoolDown: time.Minute})
	pool := NewPool(backend, 1, breaker)

	for i := 0; i < 2; i++ {
		if _, err := pool.Transcribe(context.Background(), strings.NewReader(""), "x.webm"); err == nil {
			t.Error("Expected backend error")
		}
	}

	_, err := pool.Transcribe(context.Background(), strings.NewReader(""), "x.webm")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected backend to be called twice, got %d", calls)
	}

	ready, err := pool.Ready(context.Background())
	if ready || err == nil {
		t.Error("Expected pool not to be ready while circuit is open")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := &config.Config{TranscriberProvider: "nope", TranscribeWorkers: 1}
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestNew_Whisper(t *testing.T) {
	cfg := &config.Config{
		TranscriberProvider:        config.ProviderWhisper,
		WhisperBaseURL:             "http://localhost:9999/v1",
		WhisperModel:               "whisper-1",
		TranscribeWorkers:          2,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}
	pool, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if ready, _ := pool.Ready(context.Background()); !ready {
		t.Error("Expected fresh pool to be ready")
	}
}
