package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
	"github.com/plaenen/eventfold/pkg/middleware"
	"github.com/plaenen/eventfold/pkg/observability"
)

func TestMetricsMiddleware(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	tel, err := observability.Init(ctx, observability.Config{ServiceName: "test", MetricReader: reader})
	require.NoError(t, err)
	defer tel.Shutdown(ctx)

	calls := 0
	flaky := func(ctx context.Context, cmd eventsourcing.Command) (eventsourcing.Result, error) {
		calls++
		if calls%2 == 0 {
			return eventsourcing.Result{}, errors.New("boom")
		}
		return ok(ctx, cmd)
	}
	bus := busWith(t, flaky, middleware.MetricsMiddleware(tel.Metrics))
	for i := 0; i < 4; i++ {
		_, _ = bus.Dispatch(ctx, ping{"1"})
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(4), sums["eventsourcing.command.total"])
	assert.Equal(t, int64(2), sums["eventsourcing.command.errors"])
}
