// Package promhook exports coherent.Hooks as Prometheus counters.
//
//	reg := prometheus.NewRegistry()
//	hooks, _ := promhook.New(reg, "myapp")
//	m, _ := coherent.NewMap(ctx, coherent.Options[User]{..., Hooks: hooks})
package promhook

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/coherent"
)

type Hooks struct {
	staleEvents    *prometheus.CounterVec
	appliedEvents  *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	disconnects    *prometheus.CounterVec
	resubscribes   *prometheus.CounterVec
	resubAttempts  *prometheus.HistogramVec
	flushes        *prometheus.CounterVec
	setRejected    prometheus.Counter
	readsDiscarded *prometheus.CounterVec
}

var _ coherent.Hooks = (*Hooks)(nil)

// New registers the collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	const sub = "coherent"
	h := &Hooks{
		staleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "stale_events_total",
			Help: "Inbound coherence events discarded as not newer than the cached version.",
		}, []string{"map"}),
		appliedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "applied_events_total",
			Help: "Inbound coherence events that changed the local cache.",
		}, []string{"map", "action"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "event_decode_errors_total",
			Help: "Coherence messages dropped because they could not be decoded.",
		}, []string{"map"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "channel_disconnects_total",
			Help: "Coherence channel failures.",
		}, []string{"channel"}),
		resubscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "channel_resubscribes_total",
			Help: "Successful coherence channel resubscriptions.",
		}, []string{"channel"}),
		resubAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: sub,
			Name:    "channel_resubscribe_attempts",
			Help:    "Attempts needed per successful resubscription.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"channel"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "cache_flushes_total",
			Help: "Local cache flushes.",
		}, []string{"map"}),
		setRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "provider_set_rejected_total",
			Help: "Local cache writes refused by the provider.",
		}),
		readsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "read_through_skipped_total",
			Help: "Read-through results not cached because a newer version was known.",
		}, []string{"map"}),
	}
	for _, c := range []prometheus.Collector{
		h.staleEvents, h.appliedEvents, h.decodeErrors, h.disconnects,
		h.resubscribes, h.resubAttempts, h.flushes, h.setRejected, h.readsDiscarded,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) StaleEventDiscarded(name, _ string, _, _ uint64) {
	h.staleEvents.WithLabelValues(name).Inc()
}

func (h *Hooks) EventApplied(name, _ string, action string) {
	h.appliedEvents.WithLabelValues(name, action).Inc()
}

func (h *Hooks) EventDecodeError(name string, _ error) {
	h.decodeErrors.WithLabelValues(name).Inc()
}

func (h *Hooks) ChannelDisconnected(channel string, _ error) {
	h.disconnects.WithLabelValues(channel).Inc()
}

func (h *Hooks) ChannelResubscribed(channel string, attempt int) {
	h.resubscribes.WithLabelValues(channel).Inc()
	h.resubAttempts.WithLabelValues(channel).Observe(float64(attempt))
}

func (h *Hooks) CacheFlushed(name string, _ int) {
	h.flushes.WithLabelValues(name).Inc()
}

func (h *Hooks) ProviderSetRejected(string) { h.setRejected.Inc() }

func (h *Hooks) ReadThroughSkipped(name, _ string) {
	h.readsDiscarded.WithLabelValues(name).Inc()
}
