package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
)

// Backend is a client of the chat backend. The backend remembers the API key in its session cookie, so
// every widget session needs its own Backend; the cookie jar is never shared.
type Backend struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

type setAPIKeyRequest struct {
	APIKey string `json:"apiKey"`
}

type setAPIKeyResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response *string `json:"response"`
}

const (
	setAPIKeyPath = "/set-api-key"
	chatPath      = "/api/chat"

	errLoggerKey = "err"
)

// NewBackend creates a new Backend talking to baseURL. A zero timeout leaves requests bounded only by their
// context.
func NewBackend(baseURL string, timeout time.Duration, logger *slog.Logger) (Backend, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return Backend{}, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		logger: logger.With(slog.String("module", "backend")),
	}, nil
}

// SetAPIKey sends apiKey to the backend. It returns a *models.KeyRejectedError if the backend answered but
// refused the key, and a plain error if the request or the decoding of its response failed.
func (b Backend) SetAPIKey(ctx context.Context, apiKey string) error {
	var res setAPIKeyResponse
	if err := b.post(ctx, setAPIKeyPath, setAPIKeyRequest{APIKey: apiKey}, &res); err != nil {
		return err
	}

	if !res.Success {
		return &models.KeyRejectedError{Reason: res.Error}
	}

	return nil
}

// Chat sends message to the backend and classifies the answer. Transport and decoding failures are
// reported through models.ResultTransportError rather than a separate error value.
func (b Backend) Chat(ctx context.Context, message string) models.ChatResult {
	var res chatResponse
	if err := b.post(ctx, chatPath, chatRequest{Message: message}, &res); err != nil {
		return models.ChatResult{Kind: models.ResultTransportError, Err: err}
	}

	if res.Response == nil {
		return models.ChatResult{Kind: models.ResultUnknown, Err: errors.New("response field is missing")}
	}

	result := models.ClassifyResponse(*res.Response)
	if result.Kind == models.ResultAPIKeyMissing {
		b.logger.Warn("Backend reported an API key problem", slog.String("response", result.Text))
	}
	return result
}

// post sends body as JSON to path and decodes the JSON answer into out. The status code is not checked: the
// backend reports failures inside the body, and a body that can't be decoded is an error on its own.
func (b Backend) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		b.logger.Error("Failed to decode backend response",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("error unmarshaling response: %w", err)
	}

	b.logger.Debug("Backend response",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode))

	return nil
}
