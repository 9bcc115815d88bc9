package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubble/pkg/errors"
)

func TestStartSpanWithoutInit(t *testing.T) {
	// Before Init the helpers must work as no-ops.
	ctx, span := StartSpan(context.Background(), "page_request")
	require.NotNil(t, span)
	require.NotNil(t, ctx)

	span.SetAttribute("stream", "users")
	span.SetAttribute("attempt", 1)
	span.AddEvent("retry")
	span.End(nil)
}

func TestInitAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 1.0
	require.NoError(t, Init(cfg))

	ctx, span := StartSpan(context.Background(), "page_request")
	span.SetAttribute("stream", "orders")
	span.SetAttribute("page_size", int64(200))
	span.End(errors.New(errors.ErrorTypeAPI, "rejected"))

	assert.NotNil(t, ctx)
	require.NoError(t, Shutdown(context.Background()))
}

func TestShutdownWithoutInit(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}

func TestSamplerBounds(t *testing.T) {
	for _, rate := range []float64{-1, 0, 0.5, 1, 2} {
		cfg := DefaultConfig()
		cfg.SampleRate = rate
		require.NoError(t, Init(cfg))
		require.NoError(t, Shutdown(context.Background()))
	}
}
