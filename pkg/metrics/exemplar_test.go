package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func sampledContext() (context.Context, trace.SpanContext) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{9, 8, 7, 6, 5, 4, 3, 2},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc), sc
}

func TestTraceExemplarLabels(t *testing.T) {
	ctx, sc := sampledContext()

	labels, ok := traceExemplarLabels(ctx)
	require.True(t, ok)
	assert.Equal(t, sc.TraceID().String(), labels["trace_id"])
	assert.Equal(t, sc.SpanID().String(), labels["span_id"])

	_, ok = traceExemplarLabels(context.Background())
	assert.False(t, ok)
}

func histogramOf(t *testing.T, h prometheus.Histogram) *dto.Histogram {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram()
}

func TestObserveSeconds(t *testing.T) {
	ctx, sc := sampledContext()

	traced := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "traced", Buckets: []float64{1}})
	observeSeconds(ctx, traced, 250*time.Millisecond)

	h := histogramOf(t, traced)
	assert.EqualValues(t, 1, h.GetSampleCount())
	ex := h.GetBucket()[0].GetExemplar()
	require.NotNil(t, ex)
	assert.InDelta(t, 0.25, ex.GetValue(), 1e-9)
	var traceID string
	for _, l := range ex.GetLabel() {
		if l.GetName() == "trace_id" {
			traceID = l.GetValue()
		}
	}
	assert.Equal(t, sc.TraceID().String(), traceID)

	plain := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "plain", Buckets: []float64{1}})
	observeSeconds(context.Background(), plain, 250*time.Millisecond)
	h = histogramOf(t, plain)
	assert.EqualValues(t, 1, h.GetSampleCount())
	assert.Nil(t, h.GetBucket()[0].GetExemplar())
}
