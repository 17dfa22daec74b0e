package metric

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestMetricsRegistry_Counters(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordLine()
	m.RecordLine()
	m.RecordReading(-20)
	m.RecordParseFailure()
	m.RecordPublish("mqtt", "a/b", time.Millisecond, nil)
	m.RecordPublish("nats", "a.b", time.Millisecond, nil)

	counters, err := registry.Counters()
	require.NoError(t, err)

	assert.Equal(t, 2.0, counters["source_lines_total"])
	assert.Equal(t, 1.0, counters["readings_parsed_total"])
	assert.Equal(t, 1.0, counters["source_parse_failures_total"])
	assert.Equal(t, 2.0, counters["broker_published_total"], "label sets are summed")
	assert.NotContains(t, counters, "readings_level_dbfs", "gauges are skipped")
	for name := range counters {
		assert.NotContains(t, name, "go_", "runtime collectors are skipped")
	}
}

func TestCountersFrom_SkipsForeignFamilies(t *testing.T) {
	counter := dto.MetricType_COUNTER
	families := []*dto.MetricFamily{
		{
			Name: proto.String("vol2mqtt_source_lines_total"),
			Type: &counter,
			Metric: []*dto.Metric{
				{Counter: &dto.Counter{Value: proto.Float64(3)}},
			},
		},
		{
			Name: proto.String("process_cpu_seconds_total"),
			Type: &counter,
			Metric: []*dto.Metric{
				{Counter: &dto.Counter{Value: proto.Float64(9)}},
			},
		},
	}

	assert.Equal(t, map[string]float64{"source_lines_total": 3}, countersFrom(families))
}
