package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "clinic-api"})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_WithEndpoint(t *testing.T) {
	// The gRPC exporter dials lazily, so no collector is needed here.
	p, err := Init(context.Background(), Config{
		ServiceName:  "clinic-api",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   0.5,
	})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}
