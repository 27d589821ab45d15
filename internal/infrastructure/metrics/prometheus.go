// Package metrics exports router counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ikedadada/go-anonroute/internal/usecase/service"
)

// Prometheus implements service.MetricsRecorder.
type Prometheus struct {
	cellsSent      prometheus.Counter
	cellsDropped   *prometheus.CounterVec
	circuitsBuilt  prometheus.Counter
	buildFailures  *prometheus.CounterVec
	activeSegments prometheus.Gauge
}

var _ service.MetricsRecorder = (*Prometheus)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		cellsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "anonroute_cells_sent_total",
				Help: "Number of cells handed to the link layer",
			},
		),
		cellsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anonroute_cells_dropped_total",
				Help: "Number of incoming cells dropped",
			},
			[]string{"reason"},
		),
		circuitsBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "anonroute_circuits_built_total",
				Help: "Number of circuits built by this node",
			},
		),
		buildFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anonroute_circuit_build_failures_total",
				Help: "Number of failed circuit builds",
			},
			[]string{"reason"},
		),
		activeSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "anonroute_active_segments",
				Help: "Segments currently known to the router",
			},
		),
	}
	for _, c := range []prometheus.Collector{p.cellsSent, p.cellsDropped, p.circuitsBuilt, p.buildFailures, p.activeSegments} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) CellSent()                        { p.cellsSent.Inc() }
func (p *Prometheus) CellDropped(reason string)        { p.cellsDropped.WithLabelValues(reason).Inc() }
func (p *Prometheus) CircuitBuilt()                    { p.circuitsBuilt.Inc() }
func (p *Prometheus) CircuitBuildFailed(reason string) { p.buildFailures.WithLabelValues(reason).Inc() }
func (p *Prometheus) SetActiveSegments(n int)          { p.activeSegments.Set(float64(n)) }

// Handler serves the collectors of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
