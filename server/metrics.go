package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirk91/miniredis/backend"
	"github.com/kirk91/miniredis/command"
	"github.com/kirk91/miniredis/resp"
)

const namespace = "miniredis"

type metrics struct {
	connsActive    prometheus.Gauge
	connsTotal     prometheus.Counter
	protocolErrors *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, b *backend.Backend) *metrics {
	m := &metrics{
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open client connections.",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Number of accepted client connections.",
		}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Number of connections dropped for malformed input, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.connsActive,
		m.connsTotal,
		m.protocolErrors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Number of keys in the flat key space.",
		}, func() float64 { return float64(b.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hash_keys",
			Help:      "Number of hashes.",
		}, func() float64 { return float64(b.HashLen()) }),
	)
	return m
}

// faultKind names the class of a terminal session error.
func faultKind(err error) string {
	switch {
	case errors.Is(err, command.ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, command.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, resp.ErrInvalidFrameType):
		return "invalid_frame_type"
	case errors.Is(err, resp.ErrInvalidFrameLength):
		return "invalid_frame_length"
	default:
		return "invalid_frame"
	}
}
