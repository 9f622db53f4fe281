// Package metrics exposes poll outcomes and the latest snapshot as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtlprog/dcastat/internal/domain"
)

const namespace = "dcastat"

// Recorder implements worker.Observer on a dedicated registry.
type Recorder struct {
	registry *prometheus.Registry

	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	retries      prometheus.Counter
	lastSuccess  prometheus.Gauge
	positions    prometheus.Gauge
	warnings     prometheus.Gauge
	orders       *prometheus.GaugeVec
	volume       *prometheus.GaugeVec
	volumeQuote  *prometheus.GaugeVec
	price        *prometheus.GaugeVec

	mu     sync.Mutex
	tokens map[string]struct{} // tokens with per-token series
}

// NewRecorder creates a Recorder with the process and Go runtime collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed polls by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a poll including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_retries_total",
			Help:      "Fetch attempts retried after a failure.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Generation time of the latest published snapshot.",
		}),
		positions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "positions",
			Help:      "Positions in the latest snapshot.",
		}),
		warnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_warnings",
			Help:      "Warnings in the latest snapshot.",
		}),
		orders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_orders",
			Help:      "Active DCA orders per token and direction.",
		}, []string{"token", "direction"}),
		volume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "volume_tokens",
			Help:      "Outstanding order volume in token units.",
		}, []string{"token", "direction"}),
		volumeQuote: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "volume_quote",
			Help:      "Outstanding order volume in quote units.",
		}, []string{"token", "direction"}),
		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_price",
			Help:      "Quote price per token used in the latest snapshot.",
		}, []string{"token"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.polls, r.pollDuration, r.retries, r.lastSuccess, r.positions, r.warnings,
		r.orders, r.volume, r.volumeQuote, r.price,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObservePoll records a finished poll.
func (r *Recorder) ObservePoll(success bool, d time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	r.polls.WithLabelValues(result).Inc()
	r.pollDuration.Observe(d.Seconds())
}

// ObserveRetry records one retried attempt.
func (r *Recorder) ObserveRetry() {
	r.retries.Inc()
}

// ObserveSnapshot replaces the per-token gauges with the values of snap. New values are set
// before series of tokens that left the snapshot are deleted.
func (r *Recorder) ObserveSnapshot(snap domain.Snapshot) {
	r.lastSuccess.Set(float64(snap.GeneratedAt.Unix()))
	r.positions.Set(float64(len(snap.Positions)))
	r.warnings.Set(float64(len(snap.Warnings)))

	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]struct{}, len(snap.Summary))
	for _, s := range snap.Summary {
		current[s.Token] = struct{}{}
		buy, sell := string(domain.DirectionBuy), string(domain.DirectionSell)
		r.orders.WithLabelValues(s.Token, buy).Set(float64(s.BuyOrders))
		r.orders.WithLabelValues(s.Token, sell).Set(float64(s.SellOrders))
		r.volume.WithLabelValues(s.Token, buy).Set(s.BuyVolume.InexactFloat64())
		r.volume.WithLabelValues(s.Token, sell).Set(s.SellVolume.InexactFloat64())
		r.volumeQuote.WithLabelValues(s.Token, buy).Set(s.BuyVolumeUSDC.InexactFloat64())
		r.volumeQuote.WithLabelValues(s.Token, sell).Set(s.SellVolumeUSDC.InexactFloat64())
		r.price.WithLabelValues(s.Token).Set(s.Price.InexactFloat64())
	}

	for token := range r.tokens {
		if _, ok := current[token]; ok {
			continue
		}
		labels := prometheus.Labels{"token": token}
		r.orders.DeletePartialMatch(labels)
		r.volume.DeletePartialMatch(labels)
		r.volumeQuote.DeletePartialMatch(labels)
		r.price.DeletePartialMatch(labels)
	}
	r.tokens = current
}
