package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
)

func testClient(t *testing.T, config *Config, tokens TokenProvider) *APIClient {
	t.Helper()
	client := NewAPIClient(config, tokens, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPostJSONRoundTrip(t *testing.T) {
	var gotBody map[string]interface{}
	var gotHeader http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		decoder := jsonpool.GetDecoder(r.Body)
		defer jsonpool.PutDecoder(decoder)
		require.NoError(t, decoder.Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"_id":"1"}]}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.EnableHTTP2 = false
	client := testClient(t, config, NewStaticTokenProvider("secret-token"))

	resp, err := client.PostJSON(context.Background(), server.URL, map[string]interface{}{
		"$method": "find",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"data":[{"_id":"1"}]}`, string(resp.Body))

	assert.Equal(t, "find", gotBody["$method"])
	assert.Equal(t, "Bearer secret-token", gotHeader.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "Hubble/1.0", gotHeader.Get("User-Agent"))
}

func TestPostJSONNonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.EnableHTTP2 = false
	client := testClient(t, config, nil)

	resp, err := client.PostJSON(context.Background(), server.URL, map[string]interface{}{})
	require.NoError(t, err)

	assert.False(t, resp.Success())
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "7", resp.Header.Get("Retry-After"))
	assert.JSONEq(t, `{"error":"slow down"}`, string(resp.Body))
}

func TestCircuitBreakerOpensAfterServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.EnableHTTP2 = false
	config.FailureThreshold = 2
	client := testClient(t, config, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		resp, err := client.PostJSON(ctx, server.URL, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	}

	// Breaker is open now; the next request fails fast.
	_, err := client.PostJSON(ctx, server.URL, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker")
}

func TestGetStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.EnableHTTP2 = false
	client := testClient(t, config, nil)

	_, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)

	stats := client.GetStats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.FailedRequests)
	assert.Equal(t, float64(100), stats.SuccessRate)
}

func TestStaticTokenProvider(t *testing.T) {
	provider := NewStaticTokenProvider("tok-123")
	token, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}
