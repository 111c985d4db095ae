package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/pkg/protocol"
)

func TestCall_PostsServiceRequest(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotBody   map[string]any
		gotMethod string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"changed": ["light.office"]}`))
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, "secret-token")

	result, err := g.Call(context.Background(), "light", "turn_on",
		[]string{"light.office"}, map[string]any{"brightness_pct": 80})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/services/light/turn_on", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "light.office", gotBody["entity_id"], "single targets flatten to a string")
	assert.Equal(t, float64(80), gotBody["brightness_pct"])

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, []any{"light.office"}, result.Response["changed"])
}

func TestCall_MultipleTargetsStayAList(t *testing.T) {
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, "")

	_, err := g.Call(context.Background(), "light", "turn_off",
		[]string{"light.office", "light.hall"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []any{"light.office", "light.hall"}, gotBody["entity_id"])
}

func TestCall_NoTokenOmitsAuthorization(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, "")

	_, err := g.Call(context.Background(), "light", "turn_on", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestCall_ClientErrorIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown service", http.StatusBadRequest)
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, "")

	_, err := g.Call(context.Background(), "light", "no_such_service", nil, nil)
	require.Error(t, err)

	var callErr *protocol.CallError
	require.True(t, errors.As(err, &callErr))
	assert.False(t, callErr.Retryable)
	assert.Equal(t, http.StatusBadRequest, callErr.StatusCode)
	assert.Contains(t, callErr.Message, "unknown service")
}

func TestCall_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporary failure", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, "")

	_, err := g.Call(context.Background(), "light", "turn_on", nil, nil)
	require.Error(t, err)

	var callErr *protocol.CallError
	require.True(t, errors.As(err, &callErr))
	assert.True(t, callErr.Retryable)
	assert.Equal(t, http.StatusServiceUnavailable, callErr.StatusCode)
}

func TestCall_ConnectionFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	g := NewHTTPGateway(server.URL, "")

	_, err := g.Call(context.Background(), "light", "turn_on", nil, nil)
	require.Error(t, err)

	var callErr *protocol.CallError
	require.True(t, errors.As(err, &callErr))
	assert.True(t, callErr.Retryable)
}

func TestCall_TimeoutIsRetryable(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-blocked
	}))
	defer func() {
		close(blocked)
		server.Close()
	}()

	g := NewHTTPGateway(server.URL, "", WithTimeout(20*time.Millisecond))

	_, err := g.Call(context.Background(), "light", "turn_on", nil, nil)
	require.Error(t, err)

	var callErr *protocol.CallError
	require.True(t, errors.As(err, &callErr))
	assert.True(t, callErr.Retryable)
}

func TestCall_RejectsEmptyDomainOrService(t *testing.T) {
	g := NewHTTPGateway("http://localhost:8123", "")

	for _, pair := range [][2]string{{"", "turn_on"}, {"light", ""}} {
		_, err := g.Call(context.Background(), pair[0], pair[1], nil, nil)
		require.Error(t, err)

		var callErr *protocol.CallError
		require.True(t, errors.As(err, &callErr))
		assert.False(t, callErr.Retryable)
	}
}

func TestCall_ContextCancellationIsRetryable(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-blocked
	}))
	defer func() {
		close(blocked)
		server.Close()
	}()

	g := NewHTTPGateway(server.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Call(ctx, "light", "turn_on", nil, nil)
	require.Error(t, err)

	var callErr *protocol.CallError
	require.True(t, errors.As(err, &callErr))
	assert.True(t, callErr.Retryable, "an abandoned in-flight call classifies as transient")
}
