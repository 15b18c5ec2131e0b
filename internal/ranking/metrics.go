package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRankingRequests     = "feedrank_ranking_requests_total"
	MetricRankingFallbacks    = "feedrank_ranking_fallbacks_total"
	MetricRankingEmptyResults = "feedrank_ranking_empty_results_total"
	MetricRankingErrors       = "feedrank_ranking_errors_total"
	MetricRankingCandidates   = "feedrank_ranking_candidates"
	MetricRankingDuration     = "feedrank_ranking_duration_seconds"
)

// Pipeline stages used as the stage label of MetricRankingErrors.
const (
	StageValidate = "validate"
	StageProfile  = "profile"
	StageRetrieve = "retrieve"
	StageScore    = "score"
	StagePaginate = "paginate"
)

// Metrics contains Prometheus metrics for the ranking engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	emptyResults prometheus.Counter
	errors       *prometheus.CounterVec
	candidates   prometheus.Histogram
	duration     *prometheus.HistogramVec
}

// NewMetrics creates the ranking collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingRequests,
				Help: "Total number of completed rankings by strategy and weight variant",
			},
			[]string{"strategy", "variant"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingFallbacks,
				Help: "Total number of rankings served by the fallback strategy, by reason",
			},
			[]string{"reason"},
		),
		emptyResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankingEmptyResults,
			Help: "Total number of rankings with no visible candidates",
		}),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingErrors,
				Help: "Total number of failed rankings by pipeline stage",
			},
			[]string{"stage"},
		),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankingCandidates,
			Help:    "Number of candidates scored per ranking",
			Buckets: []float64{0, 10, 25, 50, 100, 150, 200},
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRankingDuration,
				Help:    "Ranking pipeline duration in seconds by strategy",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"strategy"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.fallbacks,
		m.emptyResults,
		m.errors,
		m.candidates,
		m.duration,
	}
}

func (m *Metrics) observeRanking(strategy, variant string, reason FallbackReason, candidates int, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strategy, variant).Inc()
	if reason != FallbackNone {
		m.fallbacks.WithLabelValues(string(reason)).Inc()
	}
	if candidates == 0 {
		m.emptyResults.Inc()
	}
	m.candidates.Observe(float64(candidates))
	m.duration.WithLabelValues(strategy).Observe(seconds)
}

func (m *Metrics) incError(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}
