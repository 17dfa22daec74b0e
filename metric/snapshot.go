package metric

import (
	"strings"

	dto "github.com/prometheus/client_model/go"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// Counters gathers the vol2mqtt counters, keyed by metric name without the
// namespace prefix. Label sets of a counter vector are summed.
func (r *MetricsRegistry) Counters() (map[string]float64, error) {
	families, err := r.prometheusRegistry.Gather()
	if err != nil {
		return nil, errors.WrapTransient(err, "MetricsRegistry", "Counters", "gather metrics")
	}
	return countersFrom(families), nil
}

func countersFrom(families []*dto.MetricFamily) map[string]float64 {
	prefix := Namespace + "_"
	counters := make(map[string]float64)
	for _, family := range families {
		if family.GetType() != dto.MetricType_COUNTER || !strings.HasPrefix(family.GetName(), prefix) {
			continue
		}
		var total float64
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		counters[strings.TrimPrefix(family.GetName(), prefix)] = total
	}
	return counters
}
