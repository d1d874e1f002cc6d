// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are Prometheus collectors for transfers. A nil *Metrics records
// nothing.
type Metrics struct {
	transfers *prometheus.CounterVec
	bytes     prometheus.Counter
	duration  prometheus.Histogram
	inFlight  prometheus.Gauge
	spilled   prometheus.Counter
}

// NewMetrics creates transfer metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tgdrive_transfers_total",
			Help: "Finished transfers by outcome.",
		}, []string{"kind"}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "tgdrive_transfer_bytes_total",
			Help: "Bytes uploaded by successful transfers.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgdrive_transfer_duration_seconds",
			Help:    "Time from receiving a file to reporting the outcome.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tgdrive_transfers_in_flight",
			Help: "Transfers currently running.",
		}),
		spilled: f.NewCounter(prometheus.CounterOpts{
			Name: "tgdrive_spilled_transfers_total",
			Help: "Downloads buffered in a temporary file.",
		}),
	}
}

func (m *Metrics) start() func(Result) {
	if m == nil {
		return func(Result) {}
	}
	m.inFlight.Inc()
	start := time.Now()
	return func(res Result) {
		m.inFlight.Dec()
		m.duration.Observe(time.Since(start).Seconds())
		m.transfers.WithLabelValues(res.Kind.String()).Inc()
		if res.State == Succeeded && res.File != nil {
			m.bytes.Add(float64(res.File.Size))
		}
	}
}

func (m *Metrics) spill() {
	if m != nil {
		m.spilled.Inc()
	}
}
