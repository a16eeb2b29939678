// Package speech holds the speech-to-text and text-to-speech adapters. Both
// talk to external providers over HTTP with bounded timeouts and no internal
// retries; a failed or timed-out call surfaces as a provider error.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"mamacare/internal/domain"
)

const sttTimeout = 60 * time.Second

// STTConfig configures the Whisper-compatible transcription adapter.
type STTConfig struct {
	APIBase  string
	APIKey   string
	Model    string
	Language string // ISO-639-1 hint; fixed to the Arabic family for this population
	Logger   *slog.Logger
}

// STT transcribes voice notes through an OpenAI-compatible Whisper endpoint.
type STT struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *slog.Logger
}

func NewSTT(cfg STTConfig) *STT {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Language == "" {
		cfg.Language = "ar"
	}
	return &STT{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   &http.Client{Timeout: sttTimeout},
		logger:   cfg.Logger,
	}
}

type transcriptionResult struct {
	Text string `json:"text"`
}

// Transcribe converts audio bytes to text. An empty transcript is an error:
// the pipeline must not reply to a message nobody could read.
func (s *STT) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", s.model)
	writer.WriteField("response_format", "json")
	writer.WriteField("language", s.language)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", domain.ProviderError("transcribe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", domain.ProviderError("transcribe", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result transcriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.ProviderError("transcribe", fmt.Errorf("decode: %w", err))
	}
	if result.Text == "" {
		return "", domain.ProviderError("transcribe", fmt.Errorf("empty transcript"))
	}

	s.logger.Info("transcription complete", "text_len", len(result.Text))
	return result.Text, nil
}
