// Package metrics holds the Prometheus collectors for the feed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nmea_feed"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Sentences        *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	ChecksumFailures *prometheus.CounterVec
	BytesRead        *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Sentences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_total",
			Help:      "Sentences decoded, by talker and sentence type.",
		}, []string{"stream", "talker", "type"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Sentences rejected by the decoder, by error kind.",
		}, []string{"stream", "kind"}),
		ChecksumFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_failures_total",
			Help:      "Decoded sentences whose checksum did not match.",
		}, []string{"stream"}),
		BytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Bytes read from the transport.",
		}, []string{"stream"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Transport reconnect attempts.",
		}, []string{"stream"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Results a sink failed to deliver.",
		}, []string{"stream"}),
	}
	m.registry.MustRegister(
		m.Sentences,
		m.DecodeErrors,
		m.ChecksumFailures,
		m.BytesRead,
		m.Reconnects,
		m.SinkErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Sentence(stream, talker, typ string, checksumOK bool) {
	if m == nil {
		return
	}
	m.Sentences.WithLabelValues(stream, talker, typ).Inc()
	if !checksumOK {
		m.ChecksumFailures.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) DecodeError(stream, kind string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(stream, kind).Inc()
}

func (m *Metrics) Bytes(stream string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRead.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) Reconnect(stream string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(stream).Inc()
}

func (m *Metrics) SinkError(stream string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(stream).Inc()
}
