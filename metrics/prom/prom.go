// Package prom exports coalstore hook events as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/unkn0wn-root/coalstore"
)

// Adapter implements coalstore.Hooks and exports Prometheus counters.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       *prometheus.CounterVec
	misses     prometheus.Counter
	tierErrs   *prometheus.CounterVec
	selfHeals  *prometheus.CounterVec
	leaders    prometheus.Counter
	followers  prometheus.Counter
	abandons   prometheus.Counter
	throttles  prometheus.Counter
	corruption prometheus.Counter
}

var _ coalstore.Hooks = (*Adapter)(nil)

// New constructs a Prometheus hooks adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cache_hits_total",
			Help: "Cache hits by tier and record kind", ConstLabels: constLabels,
		}, []string{"tier", "kind"}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cache_misses_total",
			Help: "Cache misses (request entered coalescing)", ConstLabels: constLabels,
		}),
		tierErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cache_tier_errors_total",
			Help: "Cache tier failures absorbed as misses", ConstLabels: constLabels,
		}, []string{"tier", "op"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cache_self_heals_total",
			Help: "Corrupt cache records deleted on read", ConstLabels: constLabels,
		}, []string{"reason"}),
		leaders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "lease_leaders_total",
			Help: "Operations that became lease leader", ConstLabels: constLabels,
		}),
		followers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "lease_followers_total",
			Help: "Operations coalesced onto an existing lease", ConstLabels: constLabels,
		}),
		abandons: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "lease_abandons_total",
			Help: "Leases released without a result", ConstLabels: constLabels,
		}),
		throttles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "admission_rejections_total",
			Help: "Backing-store calls rejected by the admission gate", ConstLabels: constLabels,
		}),
		corruption: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "corruption_detected_total",
			Help: "Content-addressing contract violations", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.tierErrs, a.selfHeals,
		a.leaders, a.followers, a.abandons, a.throttles, a.corruption)
	return a
}

func (a *Adapter) CacheHit(tier coalstore.Tier, kind coalstore.RecordKind) {
	a.hits.WithLabelValues(tier.String(), kindLabel(kind)).Inc()
}

func (a *Adapter) CacheMiss() { a.misses.Inc() }

func (a *Adapter) CacheTierError(tier coalstore.Tier, op string, _ error) {
	a.tierErrs.WithLabelValues(tier.String(), op).Inc()
}

func (a *Adapter) SelfHeal(_, reason string) { a.selfHeals.WithLabelValues(reason).Inc() }

func (a *Adapter) LeaseLeader(string)                { a.leaders.Inc() }
func (a *Adapter) LeaseFollower(string)              { a.followers.Inc() }
func (a *Adapter) LeaseAbandoned(string, int)        { a.abandons.Inc() }
func (a *Adapter) Throttled(string)                  { a.throttles.Inc() }
func (a *Adapter) CorruptionDetected(string, string) { a.corruption.Inc() }

// kindLabel maps RecordKind to a stable label value.
func kindLabel(k coalstore.RecordKind) string {
	switch k {
	case coalstore.RecordValue:
		return "value"
	case coalstore.RecordPresence:
		return "presence"
	case coalstore.RecordAbsent:
		return "absent"
	default:
		return "unknown"
	}
}
