package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/realtime"
	"github.com/lexiqai/scribe-gateway/internal/stt"
)

// Multipart parts above this size spill to disk
const formMemory = 32 << 20

// Summarizer turns transcript text into a summary using the caller's credential
type Summarizer interface {
	Summarize(ctx context.Context, text, apiKey, model string) (string, error)
	DefaultModel() string
}

// Handlers serves the request/response endpoints
type Handlers struct {
	transcriber stt.Transcriber
	summarizer  Summarizer
	store       *realtime.Store
	tempDir     string
	maxUpload   int64
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

type sessionsResponse struct {
	Count    int             `json:"count"`
	Sessions []realtime.Info `json:"sessions"`
}

// Transcribe handles POST /transcribe: the "file" part is written to a temp
// file, transcribed once, and the temp file is removed on every path.
func (h *Handlers) Transcribe(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(middleware.GetReqID(r.Context()))
	start := time.Now()

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "multipart form with a file field is required")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "field required: file")
		return
	}
	defer file.Close()

	tmpPath, err := h.spool(file, header.Filename)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store upload")
		observability.RecordUpload(false, 0)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error().Err(err).Str("path", tmpPath).Msg("Failed to remove upload")
			observability.RecordError("cleanup", "upload")
		}
	}()

	text, err := h.transcribeFile(r.Context(), tmpPath)
	if err != nil {
		logger.Error().Err(err).Str("filename", header.Filename).Msg("Upload transcription failed")
		observability.RecordUpload(false, time.Since(start))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	observability.RecordUpload(true, time.Since(start))
	logger.Info().
		Str("filename", header.Filename).
		Int64("bytes", header.Size).
		Dur("latency", time.Since(start)).
		Msg("Upload transcribed")

	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

// spool copies src into a fresh file under tempDir, keeping the original extension
func (h *Handlers) spool(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	tmp, err := os.CreateTemp(h.tempDir, "upload_*"+uploadExt(filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

func (h *Handlers) transcribeFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return h.transcriber.Transcribe(ctx, f, filepath.Base(path))
}

// uploadExt keeps a short alphanumeric extension so backends can sniff the container
func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// Summary handles POST /summary with form fields text, api_key and model
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(middleware.GetReqID(r.Context()))

	if err := r.ParseMultipartForm(formMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusUnprocessableEntity, "invalid form body")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	if _, ok := r.PostForm["text"]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "field required: text")
		return
	}

	model := r.PostFormValue("model")
	if model == "" {
		model = h.summarizer.DefaultModel()
	}

	summary, err := h.summarizer.Summarize(r.Context(), r.PostFormValue("text"), r.PostFormValue("api_key"), model)
	if err != nil {
		logger.Error().Err(err).Str("model", model).Msg("Summary failed")
		observability.RecordSummary(false)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	observability.RecordSummary(true)
	writeJSON(w, http.StatusOK, summaryResponse{Summary: summary})
}

// Sessions handles GET /api/sessions
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	infos := h.store.List()
	writeJSON(w, http.StatusOK, sessionsResponse{Count: len(infos), Sessions: infos})
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
