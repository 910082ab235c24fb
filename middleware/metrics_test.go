package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
	mw "github.com/xraph/socialq/middleware"
)

// series keys a data point by the attributes the middleware sets.
type series struct {
	jobName, queue, status string
}

func seriesOf(set attribute.Set) series {
	v := func(k attribute.Key) string {
		val, _ := set.Value(k)
		return val.AsString()
	}
	return series{jobName: v("job_name"), queue: v("queue"), status: v("status")}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) (map[series]int64, map[series]uint64) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	executions := make(map[series]int64)
	durations := make(map[series]uint64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == "socialq.job.executions" {
					for _, dp := range data.DataPoints {
						executions[seriesOf(dp.Attributes)] += dp.Value
					}
				}
			case metricdata.Histogram[float64]:
				if m.Name == "socialq.job.duration" {
					for _, dp := range data.DataPoints {
						durations[seriesOf(dp.Attributes)] += dp.Count
					}
				}
			}
		}
	}
	return executions, durations
}

func TestMetrics_AttemptsOfOneJobBySeries(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := mw.MetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))

	// Two timeouts, then the mailbox turns out not to exist.
	outcomes := []error{
		errors.New("smtp timeout"),
		errors.New("smtp timeout"),
		job.Terminal(errors.New("no such mailbox")),
	}
	j := newTestJob()
	for i, want := range outcomes {
		j.Attempts = i + 1
		if err := m(context.Background(), j, func(context.Context) error { return want }); !errors.Is(err, want) {
			t.Fatalf("attempt %d: err = %v", j.Attempts, err)
		}
	}
	comment := &job.Job{ID: id.NewJobID(), Name: "addCommentToDB", Queue: "comment", Attempts: 1, MaxAttempts: 3}
	if err := m(context.Background(), comment, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("comment attempt: %v", err)
	}

	executions, durations := collect(t, reader)
	want := map[series]int64{
		{"resetPasswordEmail", "email", "error"}:    2,
		{"resetPasswordEmail", "email", "terminal"}: 1,
		{"addCommentToDB", "comment", "ok"}:         1,
	}
	if len(executions) != len(want) {
		t.Fatalf("execution series = %v, want %v", executions, want)
	}
	for s, n := range want {
		if executions[s] != n {
			t.Errorf("executions%+v = %d, want %d", s, executions[s], n)
		}
		if durations[s] != uint64(n) {
			t.Errorf("duration samples%+v = %d, want %d", s, durations[s], n)
		}
	}
}

func TestMetrics_GlobalNoopProvider(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called = %v, err = %v", called, err)
	}
}
