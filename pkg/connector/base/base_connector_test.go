package base

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
)

// testPosition is a minimal core.Position for exercising position plumbing.
type testPosition string

func (p testPosition) String() string { return string(p) }

func (p testPosition) Compare(other core.Position) int {
	return strings.Compare(string(p), other.String())
}

func newTestConnector(t *testing.T, mutate func(*config.BaseConfig)) *BaseConnector {
	t.Helper()

	bc := NewBaseConnector("test-connector", core.ConnectorTypeSource, "1.0.0")
	cfg := config.NewBaseConfig("test-connector", "source")
	cfg.Reliability.HealthCheck = false
	cfg.Reliability.RetryDelay = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	require.NoError(t, bc.Initialize(context.Background(), cfg))
	t.Cleanup(func() { _ = bc.Close(context.Background()) })
	return bc
}

func TestBaseConnectorLifecycle(t *testing.T) {
	bc := newTestConnector(t, nil)

	assert.Equal(t, "test-connector", bc.Name())
	assert.Equal(t, core.ConnectorTypeSource, bc.Type())
	assert.Equal(t, "1.0.0", bc.Version())
	assert.True(t, bc.IsHealthy())

	require.NoError(t, bc.Close(context.Background()))
	assert.False(t, bc.IsHealthy())

	// Close is idempotent
	require.NoError(t, bc.Close(context.Background()))
}

func TestBaseConnectorStateIsCopied(t *testing.T) {
	bc := newTestConnector(t, nil)

	require.NoError(t, bc.SetState(core.State{"cursor": "abc"}))

	got := bc.GetState()
	assert.Equal(t, "abc", got["cursor"])

	// Mutating the returned map must not leak back into the connector.
	got["cursor"] = "mutated"
	assert.Equal(t, "abc", bc.GetState()["cursor"])
}

func TestBaseConnectorPosition(t *testing.T) {
	bc := newTestConnector(t, nil)

	assert.Nil(t, bc.GetPosition())

	require.NoError(t, bc.SetPosition(testPosition("page-42")))
	assert.Equal(t, "page-42", bc.GetPosition().String())
}

func TestBaseConnectorHealthWithoutChecker(t *testing.T) {
	bc := newTestConnector(t, nil)

	status, err := bc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.True(t, status.Healthy())
}

func TestBaseConnectorHealthAfterClose(t *testing.T) {
	bc := newTestConnector(t, nil)
	require.NoError(t, bc.Close(context.Background()))

	_, err := bc.Health(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestBaseConnectorMetricsSnapshot(t *testing.T) {
	bc := newTestConnector(t, nil)

	m := bc.Metrics()
	assert.Equal(t, "test-connector", m["name"])
	assert.Equal(t, "source", m["type"])
	assert.Equal(t, "1.0.0", m["version"])
	assert.Contains(t, m, "uptime")

	// Circuit breaker is on by default and starts closed.
	assert.Equal(t, "closed", m["circuit_breaker_state"])
}

func TestBaseConnectorMetricsIncludeErrorCounts(t *testing.T) {
	bc := newTestConnector(t, nil)

	_ = bc.HandleError(context.Background(), errors.New(errors.ErrorTypeTransient, "upstream hiccup"), nil)

	m := bc.Metrics()
	assert.Equal(t, int64(1), m["errors_total"])
	assert.Equal(t, int64(1), m["errors_retried"])
}

func TestExecuteWithRetrySucceedsAfterFailures(t *testing.T) {
	bc := newTestConnector(t, func(cfg *config.BaseConfig) {
		cfg.Reliability.RetryAttempts = 3
	})

	calls := 0
	err := bc.ExecuteWithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeTransient, "temporary failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	bc := newTestConnector(t, func(cfg *config.BaseConfig) {
		cfg.Reliability.RetryAttempts = 2
	})

	calls := 0
	err := bc.ExecuteWithRetry(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeConnection, "still broken")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "attempts failed")
}

// A config error is permanent: retrying it just repeats a doomed call.
func TestExecuteWithRetryFailsFastOnPermanentError(t *testing.T) {
	bc := newTestConnector(t, func(cfg *config.BaseConfig) {
		cfg.Reliability.RetryAttempts = 3
	})

	calls := 0
	err := bc.ExecuteWithRetry(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeConfig, "append-only destination")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithCircuitBreakerDisabled(t *testing.T) {
	bc := newTestConnector(t, func(cfg *config.BaseConfig) {
		cfg.Reliability.CircuitBreaker = false
	})

	require.Nil(t, bc.GetCircuitBreaker())

	ran := false
	require.NoError(t, bc.ExecuteWithCircuitBreaker(func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestShouldRetryClassification(t *testing.T) {
	bc := newTestConnector(t, nil)

	cases := []struct {
		name  string
		err   error
		retry bool
	}{
		{"typed transient", errors.New(errors.ErrorTypeTransient, "503 from upstream"), true},
		{"typed rate limit", errors.New(errors.ErrorTypeRateLimit, "429"), true},
		{"typed internal", errors.New(errors.ErrorTypeInternal, "bug"), false},
		{"message connection refused", fmt.Errorf("dial tcp: connection refused"), true},
		{"message bad request", fmt.Errorf("bad request: missing field"), false},
		{"message unknown", fmt.Errorf("something odd"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retry, bc.ShouldRetry(tc.err))
		})
	}
}

func TestHandleErrorWrapsByRetryability(t *testing.T) {
	bc := newTestConnector(t, nil)
	ctx := context.Background()

	retryable := bc.HandleError(ctx, errors.New(errors.ErrorTypeRateLimit, "too many requests"), nil)
	require.Error(t, retryable)
	assert.True(t, errors.IsType(retryable, errors.ErrorTypeTransient))

	fatal := bc.HandleError(ctx, errors.New(errors.ErrorTypeInternal, "corrupt state"), nil)
	require.Error(t, fatal)
	assert.True(t, errors.IsType(fatal, errors.ErrorTypeInternal))

	assert.NoError(t, bc.HandleError(ctx, nil, nil))
}

func TestValidateAppliesPerformanceDefaults(t *testing.T) {
	bc := NewBaseConnector("validate-me", core.ConnectorTypeDestination, "1.0.0")
	cfg := config.NewBaseConfig("validate-me", "destination")
	cfg.Reliability.HealthCheck = false
	cfg.Performance.BatchSize = 0
	cfg.Performance.MaxConcurrency = 0
	cfg.Performance.BufferSize = 0

	require.NoError(t, bc.Initialize(context.Background(), cfg))
	t.Cleanup(func() { _ = bc.Close(context.Background()) })

	require.NoError(t, bc.Validate())
	assert.Equal(t, 1000, cfg.Performance.BatchSize)
	assert.Equal(t, 10, cfg.Performance.MaxConcurrency)
	assert.Equal(t, 10000, cfg.Performance.BufferSize)
}

func TestHealthCheckerDegradesThenFails(t *testing.T) {
	hc := NewHealthChecker("probe", time.Hour)
	hc.SetCheckFunc(func(ctx context.Context) error {
		return fmt.Errorf("endpoint unreachable")
	})

	ctx := context.Background()
	hc.performCheck(ctx)
	assert.Equal(t, "degraded", hc.GetStatus().Status)

	hc.performCheck(ctx)
	hc.performCheck(ctx)
	status := hc.GetStatus()
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, int64(3), hc.FailureCount())

	// A passing check resets the streak.
	hc.SetCheckFunc(func(ctx context.Context) error { return nil })
	hc.performCheck(ctx)
	assert.True(t, hc.IsHealthy())
}

func TestRetryPolicyDelayGrowsAndCaps(t *testing.T) {
	rp := NewRetryPolicy(5, 100*time.Millisecond)

	early := rp.GetDelay(0)
	assert.Greater(t, early, time.Duration(0))

	// Far beyond the cap the jittered delay stays near MaxDelay.
	late := rp.GetDelay(30)
	assert.LessOrEqual(t, late, time.Duration(float64(rp.MaxDelay)*1.3))
	assert.GreaterOrEqual(t, late, time.Duration(float64(rp.MaxDelay)*0.7))
}

func TestProgressReporterTracksCounts(t *testing.T) {
	bc := newTestConnector(t, nil)

	bc.ReportProgress(250, 1000)
	processed, total := bc.GetProgressReporter().GetProgress()
	assert.Equal(t, int64(250), processed)
	assert.Equal(t, int64(1000), total)

	m := bc.Metrics()
	assert.Equal(t, int64(250), m["records_processed"])
	assert.Equal(t, int64(1000), m["records_total"])
}
