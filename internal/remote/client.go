// Package remote provides the client for the hosted wish store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/models"
)

// maxErrorBody bounds how much of an error response ends up in messages.
const maxErrorBody = 512

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPCreator creates wishes through the remote REST API.
type HTTPCreator struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPCreator creates an HTTPCreator.
func NewHTTPCreator(cfg Config) *HTTPCreator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCreator{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateRecord posts payload to /v1/wishes. idempotencyKey makes retries of
// a create that already landed return the existing record.
func (c *HTTPCreator) CreateRecord(ctx context.Context, idempotencyKey string, payload models.WishPayload) (models.RecordRef, error) {
	if c.baseURL == "" {
		return models.RecordRef{}, apperrors.New(apperrors.ErrRemoteUnavailable, "remote base URL is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.RecordRef{}, apperrors.Wrap(apperrors.ErrInvalid, "marshal wish", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/wishes", bytes.NewReader(body))
	if err != nil {
		return models.RecordRef{}, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.RecordRef{}, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.RecordRef{}, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.RecordRef{}, statusError(resp, respBody)
	}

	var result createResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return models.RecordRef{}, apperrors.Wrap(apperrors.ErrRemoteRejected, "unmarshal response", err)
	}
	if result.ID == "" {
		return models.RecordRef{}, apperrors.New(apperrors.ErrRemoteRejected, "response has no record id")
	}
	return models.RecordRef{ID: result.ID}, nil
}

func statusError(resp *http.Response, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	msg := fmt.Sprintf("create wish: %s", resp.Status)
	if text != "" {
		msg += " - " + text
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrRemoteUnauthorized, msg)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return apperrors.New(apperrors.ErrRemoteUnavailable, msg)
	default:
		return apperrors.New(apperrors.ErrRemoteRejected, msg)
	}
}
