package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "nondominium", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	_, done := p.TrackOperation(context.Background(), "issue")
	done(errors.New("ignored"))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderIsNoop(t *testing.T) {
	var p *Provider
	ctx, done := p.TrackOperation(context.Background(), "access")
	done(nil)
	p.RecordError(ctx, errors.New("x"))
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(ctx))
}

func TestTrackOperation_RecordsMetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewInMemoryExporter()

	p, err := New(ctx, DefaultConfig(),
		WithMetricReader(reader),
		WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(spans)),
	)
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(ctx) }()

	_, done := p.TrackOperation(ctx, "issue", AttrAgentID.String("alice"))
	done(nil)
	_, done = p.TrackOperation(ctx, "access", AttrAgentID.String("bob"))
	done(contracts.Errorf(contracts.KindAuthorization, contracts.CodeAccessDenied, "op", "denied"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	errs := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value(AttrOperation)
				switch m.Name {
				case "nondominium.operations.total":
					totals[op.AsString()] += dp.Value
				case "nondominium.errors.total":
					code, _ := dp.Attributes.Value(AttrErrorCode)
					errs[op.AsString()+"/"+code.AsString()] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), totals["issue"])
	assert.Equal(t, int64(1), totals["access"])
	assert.Equal(t, int64(1), errs["access/"+contracts.CodeAccessDenied])

	ended := spans.GetSpans()
	require.Len(t, ended, 2)
	assert.Equal(t, "issue", ended[0].Name)
	assert.Len(t, ended[1].Events, 1, "error recorded on span")
}

func TestAttributeHelpers(t *testing.T) {
	attrs := AccessOperation("alice", "g-1", "granted", 2)
	set := attribute.NewSet(attrs...)
	v, ok := set.Value(AttrFieldCount)
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())

	issue := attribute.NewSet(IssuanceOperation("alice", "TransportFulfillment", "ServiceCommitmentAccepted")...)
	v, _ = issue.Value(AttrClaimType)
	assert.Equal(t, "TransportFulfillment/ServiceCommitmentAccepted", v.AsString())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)
	l.Debug("hidden")
	l.Info("shown", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])

	_, err = NewLogger(&buf, "chatty", "json")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "INFO", "xml")
	assert.Error(t, err)

	buf.Reset()
	l, err = NewLogger(&buf, "DEBUG", "text")
	require.NoError(t, err)
	l.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestNewLoggerRedactsPrivateValues(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)
	l.Info("redeemed", "email", "bob@example.org", "reason", "sent to bob@example.org", "grant_id", "g-12345678")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[REDACTED_FIELD]", rec["email"])
	assert.Equal(t, "sent to [REDACTED_EMAIL]", rec["reason"])
	assert.Equal(t, "g-12345678", rec["grant_id"])
	assert.NotContains(t, buf.String(), "bob@example.org")
}
