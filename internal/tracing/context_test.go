package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAndGetValues(t *testing.T) {
	ctx := context.Background()

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithSessionID(ctx, "session-1")
	ctx = WithJobID(ctx, "job-1")
	ctx = WithClientID(ctx, "client-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "session-1", GetSessionID(ctx))
	assert.Equal(t, "job-1", GetJobID(ctx))
	assert.Equal(t, "client-1", GetClientID(ctx))
}

func TestGetValues_Empty(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSessionID(ctx))
	assert.Empty(t, GetJobID(ctx))
	assert.Empty(t, GetClientID(ctx))
}

func TestFromContext_RoundTrip(t *testing.T) {
	tc := &TraceContext{
		TraceID:   "trace-2",
		SessionID: "session-2",
		JobID:     "job-2",
	}

	ctx := NewContext(context.Background(), tc)
	got := FromContext(ctx)

	assert.Equal(t, tc.TraceID, got.TraceID)
	assert.Equal(t, tc.SessionID, got.SessionID)
	assert.Equal(t, tc.JobID, got.JobID)
	assert.Empty(t, got.ClientID)
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	require.NotEmpty(t, GetTraceID(ctx))

	// New requests get distinct trace IDs
	other := NewRequestContext(context.Background())
	assert.NotEqual(t, GetTraceID(ctx), GetTraceID(other))
}

func TestNewJobContext_KeepsParentTrace(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-parent")
	ctx := NewJobContext(parent, "job-9", "session-9")

	assert.Equal(t, "trace-parent", GetTraceID(ctx))
	assert.Equal(t, "job-9", GetJobID(ctx))
	assert.Equal(t, "session-9", GetSessionID(ctx))
}

func TestNewJobContext_GeneratesTrace(t *testing.T) {
	ctx := NewJobContext(context.Background(), "job-9", "session-9")
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestPropagateToJob(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-parent")
	parent = WithClientID(parent, "client-x")

	ctx := PropagateToJob(parent, "job-1", "session-1")

	assert.Equal(t, "trace-parent", GetTraceID(ctx))
	assert.Equal(t, "job-1", GetJobID(ctx))
	assert.Equal(t, "session-1", GetSessionID(ctx))
	// Client identity does not leak into the job timeline.
	assert.Empty(t, GetClientID(ctx))
}
