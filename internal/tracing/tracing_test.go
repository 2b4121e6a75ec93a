package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointHost(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"strips http prefix", "http://localhost:4318", "localhost:4318"},
		{"strips https prefix", "https://otel.example.com:4318", "otel.example.com:4318"},
		{"returns unchanged when no scheme", "localhost:4318", "localhost:4318"},
		{"handles empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, endpointHost(tt.input))
		})
	}
}

func TestInitWithEmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "acp-gateway")
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSpanHelpersDoNotPanicWithNoopTracer(t *testing.T) {
	ctx := context.Background()

	assert.NotPanics(t, func() {
		_, span := TraceRequest(ctx, "session/prompt", 1, "sess-1")
		TraceRequestResult(span, nil)
		span.End()
	})

	assert.NotPanics(t, func() {
		TraceNotification(ctx, "session/update", "sess-1", []byte(`{"foo":"bar"}`))
	})

	assert.NotPanics(t, func() {
		_, span := TraceWSRoundtrip(ctx, "send_prompt", float64(3), "client-1")
		TraceWSResult(span, nil)
		span.End()
	})
}
