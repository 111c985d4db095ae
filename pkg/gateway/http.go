// Package gateway implements the service call gateway against a smart-home
// platform REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/castellan/castellan/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// HTTPGateway performs service calls via
// POST {base}/api/services/{domain}/{service} with bearer token auth.
// Connection errors, timeouts and 5xx responses are retryable; a well-formed
// 4xx rejection is not. Safe for concurrent use.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

type HTTPOption func(*HTTPGateway)

func WithTimeout(timeout time.Duration) HTTPOption {
	return func(g *HTTPGateway) {
		g.client.Timeout = timeout
	}
}

func WithLogger(logger *slog.Logger) HTTPOption {
	return func(g *HTTPGateway) {
		g.logger = logger
	}
}

func NewHTTPGateway(baseURL, token string, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default().With("module", "gateway"),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *HTTPGateway) Call(ctx context.Context, domain, service string, target []string, data map[string]any) (*protocol.CallResult, error) {
	if domain == "" || service == "" {
		return nil, &protocol.CallError{
			Retryable: false,
			Message:   "domain and service must be non-empty",
		}
	}

	body := make(map[string]any, len(data)+1)
	for k, v := range data {
		body[k] = v
	}

	switch len(target) {
	case 0:
	case 1:
		body["entity_id"] = target[0]
	default:
		body["entity_id"] = target
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &protocol.CallError{
			Retryable: false,
			Message:   "service data is not serializable",
			Err:       err,
		}
	}

	url := fmt.Sprintf("%s/api/services/%s/%s", g.baseURL, domain, service)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &protocol.CallError{
			Retryable: false,
			Message:   "failed to build request",
			Err:       err,
		}
	}

	req.Header.Set("Content-Type", "application/json")

	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: all transient.
		return nil, &protocol.CallError{
			Retryable: true,
			Message:   fmt.Sprintf("request to %s.%s failed", domain, service),
			Err:       err,
		}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &protocol.CallError{
			Retryable: true,
			Message:   "failed to read response body",
			Err:       err,
		}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		g.logger.Warn("Service call returned server error",
			"domain", domain, "service", service, "status", resp.StatusCode)

		return nil, &protocol.CallError{
			Retryable:  true,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("server error (status %d)", resp.StatusCode),
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &protocol.CallError{
			Retryable:  false,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("platform rejected %s.%s (status %d): %s", domain, service, resp.StatusCode, strings.TrimSpace(string(responseBody))),
		}
	}

	result := &protocol.CallResult{StatusCode: resp.StatusCode}

	if len(responseBody) > 0 {
		var decoded any
		if err := json.Unmarshal(responseBody, &decoded); err == nil {
			if m, ok := decoded.(map[string]any); ok {
				result.Response = m
			} else {
				result.Response = map[string]any{"body": decoded}
			}
		}
	}

	return result, nil
}
