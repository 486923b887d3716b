package otelhelper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type lockLostError struct{}

func (lockLostError) Error() string { return "lock lost" }

func TestSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "job.execute", attribute.String(JobIDKey, "job-1"))
	SetError(span, fmt.Errorf("failed to run job: %w", lockLostError{}), attribute.Int(JobRetriesKey, 2))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "failed to run job: lock lost", spans[0].Status().Description)

	var occurred sdktrace.Event

	for _, event := range spans[0].Events() {
		if event.Name == "error_occurred" {
			occurred = event
		}
	}

	assert.Contains(t, occurred.Attributes, attribute.String(ErrorTypeKey, "otelhelper.lockLostError"))
	assert.Contains(t, occurred.Attributes, attribute.Int(JobRetriesKey, 2))
}

func TestSetError_Nil(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "engine.signal")
	SetError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Empty(t, spans[0].Events())
}

func TestRootType(t *testing.T) {
	assert.Equal(t, "*errors.errorString", rootType(fmt.Errorf("outer: %w", errors.New("inner"))))
	assert.Equal(t, "*errors.joinError", rootType(errors.Join(errors.New("a"), errors.New("b"))))
}
