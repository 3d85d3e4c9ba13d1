// Package metrics owns the Prometheus registry the bridge exposes on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "panoview_bridge"

type BuildInfo struct {
	Version  string
	Revision string
}

type Config struct {
	Build BuildInfo
	// Namespace prefixes the build info series; empty uses panoview_bridge.
	Namespace string
}

// Provider serves one registry. Scrapes of the handler are counted in
// promhttp_metric_handler_requests_total on the same registry.
type Provider struct {
	reg     *prometheus.Registry
	handler http.Handler
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo(cfg),
	)
	h := promhttp.InstrumentMetricHandler(reg,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &Provider{reg: reg, handler: h}
}

// buildInfo is a constant 1 labelled with the binary's version.
func buildInfo(cfg Config) prometheus.Collector {
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "build_info",
		Help:        "Build info for this binary (value is always 1).",
		ConstLabels: prometheus.Labels{"version": v.Version, "revision": v.Revision},
	}, func() float64 { return 1 })
}

func (p *Provider) Handler() http.Handler { return p.handler }

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

func (p *Provider) Gatherer() prometheus.Gatherer { return p.reg }
