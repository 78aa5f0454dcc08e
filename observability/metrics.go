package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics tracks JSON-RPC handler activity.
type RPCMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics

	stableMetricsOnce sync.Once
	stableRegistry    *StableMetrics

	yieldMetricsOnce sync.Once
	yieldRegistry    *YieldMetrics

	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics
)

// RPC returns the lazily-initialised registry used to record JSON-RPC
// activity.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "kusd",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected before reaching a handler.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of one JSON-RPC call. code is the JSON-RPC
// error code, zero on success.
func (m *RPCMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "unauthorized" so dashboards stay
// consistent.
func (m *RPCMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// StableMetrics captures deposit and redemption flow health.
type StableMetrics struct {
	deposits     *prometheus.CounterVec
	redemptions  *prometheus.CounterVec
	capRemaining *prometheus.GaugeVec
	supply       prometheus.Gauge
	pauseEngaged *prometheus.GaugeVec
}

// Stable exposes the metrics registry for the deposit and redemption engine.
func Stable() *StableMetrics {
	stableMetricsOnce.Do(func() {
		stableRegistry = &StableMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "stable",
				Name:      "deposits_total",
				Help:      "Count of deposit attempts segmented by asset and outcome.",
			}, []string{"asset", "outcome"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "stable",
				Name:      "redemptions_total",
				Help:      "Count of redemption operations segmented by step and outcome.",
			}, []string{"step", "outcome"}),
			capRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "kusd",
				Subsystem: "stable",
				Name:      "capacity_remaining",
				Help:      "Remaining deposit capacity in KUSD wei, per asset plus the global scope.",
			}, []string{"scope"}),
			supply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "kusd",
				Subsystem: "stable",
				Name:      "supply_wei",
				Help:      "Outstanding KUSD supply in wei.",
			}),
			pauseEngaged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "kusd",
				Subsystem: "stable",
				Name:      "pause_engaged",
				Help:      "Whether the named module pause is active (1) or not (0).",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			stableRegistry.deposits,
			stableRegistry.redemptions,
			stableRegistry.capRemaining,
			stableRegistry.supply,
			stableRegistry.pauseEngaged,
		)
	})
	return stableRegistry
}

// RecordDeposit counts one deposit attempt.
func (m *StableMetrics) RecordDeposit(asset string, err error) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(labelAsset(asset), outcomeLabel(err)).Inc()
}

// RecordRedemption counts one redemption step (initiate, complete, cancel).
func (m *StableMetrics) RecordRedemption(step string, err error) {
	if m == nil {
		return
	}
	if step = strings.TrimSpace(step); step == "" {
		step = "unknown"
	}
	m.redemptions.WithLabelValues(step, outcomeLabel(err)).Inc()
}

// RecordCapacity updates the remaining-capacity gauge for a scope. Scope is
// an asset ticker or "global".
func (m *StableMetrics) RecordCapacity(scope string, remaining *big.Int) {
	if m == nil {
		return
	}
	if scope = strings.TrimSpace(scope); scope == "" {
		scope = "global"
	}
	m.capRemaining.WithLabelValues(strings.ToUpper(scope)).Set(bigToFloat(remaining))
}

// RecordSupply updates the outstanding supply gauge.
func (m *StableMetrics) RecordSupply(supply *big.Int) {
	if m == nil {
		return
	}
	m.supply.Set(bigToFloat(supply))
}

// SetPause toggles the pause gauge for a module name.
func (m *StableMetrics) SetPause(module string, engaged bool) {
	if m == nil {
		return
	}
	value := 0.0
	if engaged {
		value = 1
	}
	m.pauseEngaged.WithLabelValues(module).Set(value)
}

// YieldMetrics bundles collectors tracking distribution vesting.
type YieldMetrics struct {
	releases    *prometheus.CounterVec
	released    *prometheus.CounterVec
	active      prometheus.Gauge
	completions prometheus.Counter
}

// Yield exposes the metrics registry for the distribution scheduler.
func Yield() *YieldMetrics {
	yieldMetricsOnce.Do(func() {
		yieldRegistry = &YieldMetrics{
			releases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "yield",
				Name:      "releases_total",
				Help:      "Count of release sweeps segmented by outcome.",
			}, []string{"outcome"}),
			released: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "yield",
				Name:      "released_units_total",
				Help:      "Cumulative released amount in raw asset units.",
			}, []string{"asset"}),
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "kusd",
				Subsystem: "yield",
				Name:      "active_distributions",
				Help:      "Number of currently active distributions.",
			}),
			completions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "yield",
				Name:      "completions_total",
				Help:      "Count of distributions that vested fully.",
			}),
		}
		prometheus.MustRegister(
			yieldRegistry.releases,
			yieldRegistry.released,
			yieldRegistry.active,
			yieldRegistry.completions,
		)
	})
	return yieldRegistry
}

// RecordRelease counts one release sweep.
func (m *YieldMetrics) RecordRelease(err error) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(outcomeLabel(err)).Inc()
}

// RecordReleased adds the released amount for an asset.
func (m *YieldMetrics) RecordReleased(asset string, amount *big.Int) {
	if m == nil {
		return
	}
	value := bigToFloat(amount)
	if value < 0 {
		return
	}
	m.released.WithLabelValues(labelAsset(asset)).Add(value)
}

// SetActive updates the active distribution gauge.
func (m *YieldMetrics) SetActive(count int) {
	if m == nil {
		return
	}
	m.active.Set(float64(count))
}

// RecordCompletion counts a fully vested distribution.
func (m *YieldMetrics) RecordCompletion() {
	if m == nil {
		return
	}
	m.completions.Inc()
}

type eventMetrics struct {
	emitted  *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

// Events returns the metrics registry tracking emitted protocol events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of emitted protocol events segmented by type.",
			}, []string{"type"}),
			webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "events",
				Name:      "webhook_deliveries_total",
				Help:      "Webhook delivery attempts segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.webhooks)
	})
	return eventRegistry
}

// RecordEvent increments the counter for an event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType = strings.TrimSpace(eventType); eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

// RecordWebhook tracks one webhook delivery outcome (delivered, failed,
// dropped).
func (m *eventMetrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unknown"
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}

// KeeperMetrics tracks the release keeper's sweep loop.
type KeeperMetrics struct {
	sweeps      *prometheus.CounterVec
	released    prometheus.Counter
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// Keeper exposes the metrics registry for the release keeper.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "keeper",
				Name:      "sweeps_total",
				Help:      "Count of release sweeps segmented by outcome.",
			}, []string{"outcome"}),
			released: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "kusd",
				Subsystem: "keeper",
				Name:      "released_distributions_total",
				Help:      "Cumulative count of distributions paid out by sweeps.",
			}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "kusd",
				Subsystem: "keeper",
				Name:      "sweep_duration_seconds",
				Help:      "Latency distribution for release sweeps.",
				Buckets:   prometheus.DefBuckets,
			}),
			lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "kusd",
				Subsystem: "keeper",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last sweep that completed without error.",
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.sweeps,
			keeperRegistry.released,
			keeperRegistry.duration,
			keeperRegistry.lastSuccess,
		)
	})
	return keeperRegistry
}

// RecordSweep counts one sweep with its outcome and latency.
func (m *KeeperMetrics) RecordSweep(outcome string, released int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unknown"
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	if released > 0 {
		m.released.Add(float64(released))
	}
	m.duration.Observe(elapsed.Seconds())
}

// SetLastSuccess records when a sweep last completed cleanly.
func (m *KeeperMetrics) SetLastSuccess(ts time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Set(float64(ts.Unix()))
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
