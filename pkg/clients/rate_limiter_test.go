package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketConsumesBurstThenBlocks(t *testing.T) {
	tb := NewTokenBucketRateLimiter(1, 2)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	stats := tb.GetStats()
	assert.Equal(t, int64(2), stats.AllowedRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	tb := NewTokenBucketRateLimiter(0.1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// backdate makes the next Allow/Wait eligible to adapt despite the cooldown.
func backdate(ar *AdaptiveRateLimiter) {
	ar.mu.Lock()
	ar.lastAdaptation = time.Now().Add(-2 * adaptationCooldown)
	ar.mu.Unlock()
}

func TestAdaptiveRateLimiterBacksOffOnErrors(t *testing.T) {
	ar := NewAdaptiveRateLimiter(100, 10)

	for i := 0; i < 20; i++ {
		ar.RecordResponse(10*time.Millisecond, i%2 == 0)
	}
	backdate(ar)
	ar.Allow()

	assert.Less(t, ar.GetStats().Rate, 100.0)
}

func TestAdaptiveRateLimiterBacksOffOnSlowResponses(t *testing.T) {
	ar := NewAdaptiveRateLimiter(100, 10)

	for i := 0; i < 20; i++ {
		ar.RecordResponse(3*time.Second, true)
	}
	backdate(ar)
	ar.Allow()

	assert.Less(t, ar.GetStats().Rate, 100.0)
}

func TestAdaptiveRateLimiterGrowsWhenHealthy(t *testing.T) {
	ar := NewAdaptiveRateLimiter(100, 10)

	for i := 0; i < 20; i++ {
		ar.RecordResponse(5*time.Millisecond, true)
	}
	backdate(ar)
	ar.Allow()

	rate := ar.GetStats().Rate
	assert.Greater(t, rate, 100.0)
	assert.LessOrEqual(t, rate, 200.0)
}

func TestAdaptiveRateLimiterHoldsWithoutSamples(t *testing.T) {
	ar := NewAdaptiveRateLimiter(100, 10)

	backdate(ar)
	ar.Allow()

	assert.Equal(t, 100.0, ar.GetStats().Rate)
}

func TestResponseWindowStats(t *testing.T) {
	w := newResponseWindow(time.Minute)

	// Out-of-order latencies: the percentile must come from sorted order,
	// not recording order.
	w.record(100*time.Millisecond, true)
	w.record(50*time.Millisecond, false)
	w.record(10*time.Millisecond, true)
	w.record(20*time.Millisecond, true)

	stats := w.stats()
	assert.Equal(t, 4, stats.Count)
	assert.InDelta(t, 0.25, stats.ErrorRate, 1e-9)
	assert.Equal(t, 50*time.Millisecond, stats.P95Latency)
	assert.Equal(t, 45*time.Millisecond, stats.MeanLatency)
}

// Server errors observed by the client must reach the adaptive limiter and
// pull the request rate down.
func TestClientFeedsAdaptiveLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.EnableHTTP2 = false
	config.CircuitBreakerEnabled = false
	config.RateLimit = 1000
	config.RateBurst = 1000
	config.AdaptiveRateLimit = true
	client := testClient(t, config, nil)

	ar, ok := client.rateLimiter.(*AdaptiveRateLimiter)
	require.True(t, ok)

	for i := 0; i < 10; i++ {
		_, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
	}

	backdate(ar)
	_, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Less(t, ar.GetStats().Rate, 1000.0)
}
