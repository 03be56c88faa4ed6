package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracing_Disabled(t *testing.T) {
	tr, err := InitTracing(Config{Enabled: false})
	require.NoError(t, err)
	assert.Same(t, tr, GetTracer())

	ctx, span := tr.StartSpan(context.Background(), "funnel.rank")
	defer span.End()
	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())

	assert.NoError(t, Shutdown(context.Background()))
}
