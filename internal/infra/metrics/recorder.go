// Package metrics exports protocol events to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryanwahyu/casegate/internal/domain/cases"
)

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the exposition format for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Recorder counts case protocol events by name
type Recorder struct {
	events *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	return &Recorder{
		events: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "casegate",
			Name:      "case_events_total",
			Help:      "Case protocol events by kind",
		}, []string{"event"}),
	}
}

func (r *Recorder) Record(event string) {
	r.events.WithLabelValues(event).Inc()
}

var _ cases.Recorder = (*Recorder)(nil)
