// Package provider queries external generation providers' task status APIs.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/soundloom/soundloom/config"
	"github.com/soundloom/soundloom/internal/service"
)

// statusResponse is the provider status payload shape.
type statusResponse struct {
	Status string `json:"status"`
}

// StatusClient queries a provider's task status endpoint over HTTP.
type StatusClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewStatusClient creates a StatusClient. Returns an error when no base URL
// is configured.
func NewStatusClient(cfg config.ProviderConfig, logger *slog.Logger) (*StatusClient, error) {
	if cfg.StatusBaseURL == "" {
		return nil, errors.New("provider status base url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StatusClient{
		baseURL: cfg.StatusBaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "provider_status"),
	}, nil
}

// TaskStatus fetches the provider's view of a task. Unrecognized payloads and
// non-200 responses map to the unknown state; transport failures surface as
// errors for the caller to classify.
func (c *StatusClient) TaskStatus(
	ctx context.Context,
	svc, taskID string,
) (service.ProviderState, error) {
	endpoint := fmt.Sprintf("%s/%s/tasks/%s/status",
		c.baseURL, url.PathEscape(svc), url.PathEscape(taskID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return service.ProviderStateUnknown, fmt.Errorf("build status request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return service.ProviderStateUnknown, fmt.Errorf("query provider status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WarnContext(ctx, "provider status query returned non-200",
			"service", svc, "task_id", taskID, "status_code", resp.StatusCode)
		return service.ProviderStateUnknown, nil
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return service.ProviderStateUnknown, fmt.Errorf("decode status response: %w", err)
	}

	return normalizeState(body.Status), nil
}

// normalizeState maps provider status strings onto the closed state set.
func normalizeState(raw string) service.ProviderState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "success", "succeeded":
		return service.ProviderStateCompleted
	case "processing", "pending", "running", "queued", "in_progress":
		return service.ProviderStateProcessing
	case "failed", "error", "cancelled", "canceled":
		return service.ProviderStateFailed
	default:
		return service.ProviderStateUnknown
	}
}

var _ service.ProviderStatusClient = (*StatusClient)(nil)
