package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (string, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func TestRecordErrorSetsTypeAndStatus(t *testing.T) {
	sr, tp := newRecordingTracer()
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordError(span, errors.New("连接超时"), ErrorTypeDB)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	typ, ok := spanAttr(ended[0], "error.type")
	require.True(t, ok)
	assert.Equal(t, "db", typ)

	msg, ok := spanAttr(ended[0], "error.message")
	require.True(t, ok)
	assert.Equal(t, "连接超时", msg)
}

func TestRecordErrorTruncatesLongMessage(t *testing.T) {
	sr, tp := newRecordingTracer()
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordError(span, errors.New(strings.Repeat("x", 1000)), ErrorTypeLLM)
	span.End()

	msg, ok := spanAttr(sr.Ended()[0], "error.message")
	require.True(t, ok)
	assert.True(t, len([]rune(msg)) <= DefaultMaxLength)
	assert.Contains(t, msg, "...")
}

func TestRecordErrorWithInfoAddsAttributes(t *testing.T) {
	sr, tp := newRecordingTracer()
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordErrorWithInfo(span, errors.New("抽取失败"), ErrorTypeTimeout,
		attribute.String("analysis.failed_stage", "extract"))
	span.End()

	stage, ok := spanAttr(sr.Ended()[0], "analysis.failed_stage")
	require.True(t, ok)
	assert.Equal(t, "extract", stage)
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	sr, tp := newRecordingTracer()
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordError(span, nil, ErrorTypeDB)
	RecordError(nil, errors.New("忽略"), ErrorTypeDB)
	span.End()

	assert.Equal(t, codes.Unset, sr.Ended()[0].Status().Code)
}
