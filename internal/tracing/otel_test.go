package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestIdentityAttrs(t *testing.T) {
	ctx := WithSessionID(context.Background(), "session-1")
	ctx = WithJobID(ctx, "job-1")

	assert.ElementsMatch(t, []attribute.KeyValue{
		attribute.String("session_id", "session-1"),
		attribute.String("job_id", "job-1"),
	}, identityAttrs(ctx))
}

func TestIdentityAttrs_EmptyContext(t *testing.T) {
	assert.Empty(t, identityAttrs(context.Background()))
}

func TestSampleRatio(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"unset", "", 1},
		{"half", "0.5", 0.5},
		{"never", "0", 0},
		{"garbage", "lots", 1},
		{"out of range", "7", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvSampleRatio, tt.raw)
			assert.Equal(t, tt.want, sampleRatio())
		})
	}
}

func TestStartSpan_BackfillsTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("sessiond-test"))

	ctx, span := StartSpan(context.Background(), "sessiond.test", "test.op")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}
