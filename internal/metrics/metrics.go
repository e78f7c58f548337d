// Package metrics exposes prometheus counters for the event stream. The
// consumer subscribes to the bus like any other handler, so the core stays
// free of metrics calls.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stakahashi/tenken/internal/event"
)

var (
	structureChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenken_structure_changes_total",
		Help: "Committed writes to the structure collections.",
	}, []string{"path"})

	treesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenken_trees_emitted_total",
		Help: "Structure tree snapshots emitted to subscribers.",
	})

	reportsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenken_reports_submitted_total",
		Help: "Reports durably written to the report store.",
	})

	mirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenken_report_mirror_failures_total",
		Help: "Sink mirror attempts that failed.",
	})

	mirrorSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenken_report_mirrors_total",
		Help: "Reports successfully mirrored to the sink.",
	})
)

// Consumer counts domain events.
type Consumer struct{}

func NewConsumer() *Consumer { return &Consumer{} }

func (c *Consumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	switch evt.EventType {
	case event.TypeStructureChanged:
		structureChanges.WithLabelValues(evt.Path).Inc()
	case event.TypeReportSubmitted:
		reportsSubmitted.Inc()
	case event.TypeReportMirrorFailed:
		mirrorFailures.Inc()
	case event.TypeReportMirrored:
		mirrorSuccesses.Inc()
	}
	return nil
}

// IncTreeEmitted counts one emitted tree snapshot. Tree emission does not
// pass through the bus, so the synchronizer observer calls this directly.
func IncTreeEmitted() { treesEmitted.Inc() }

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
