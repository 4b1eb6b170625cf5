package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	stateTransitionCount *prometheus.CounterVec
	pipelineFailureCount *prometheus.CounterVec
	activeDuelsGauge     prometheus.Gauge
	feedFailureCount     *prometheus.CounterVec
	fetchedQuotesCount   prometheus.Counter
	emittedEventsCount   *prometheus.CounterVec
	eventErrorCount      prometheus.Counter
	transportGauge       *prometheus.GaugeVec
}

// NewMetrics registers with the default prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(registerer prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(registerer)
	m := Metrics{
		// duel pipeline
		stateTransitionCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_duel_state_transition_count", namespace),
			Help: "The total number of duel progress transitions by target state",
		}, []string{"state"}),
		pipelineFailureCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_duel_failure_count", namespace),
			Help: "The total number of failed duel pipelines by failing step",
		}, []string{"step"}),
		activeDuelsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_active_duels", namespace),
			Help: "The number of duel pipelines currently running",
		}),
		// price feeds
		feedFailureCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_feed_failure_count", namespace),
			Help: "The total number of price feed reads that failed after retries",
		}, []string{"feed"}),
		fetchedQuotesCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_fetched_quote_count", namespace),
			Help: "The total number of price quotes fetched",
		}),
		// contract events
		emittedEventsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_emitted_event_count", namespace),
			Help: "The total number of emitted duel events by transport",
		}, []string{"transport"}),
		eventErrorCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_event_error_count", namespace),
			Help: "The total number of event stream errors",
		}),
		transportGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_event_transport_active", namespace),
			Help: "Set to 1 for the transport currently feeding the event stream",
		}, []string{"transport"}),
	}
	return &m
}

func (metrics *Metrics) IncStateTransition(state string) {
	metrics.stateTransitionCount.WithLabelValues(state).Inc()
}

func (metrics *Metrics) IncPipelineFailure(step string) {
	if step == "" {
		step = "unknown"
	}
	metrics.pipelineFailureCount.WithLabelValues(step).Inc()
}

func (metrics *Metrics) AddActiveDuels(delta int) {
	metrics.activeDuelsGauge.Add(float64(delta))
}

func (metrics *Metrics) IncFeedFailure(feedID string) {
	metrics.feedFailureCount.WithLabelValues(feedID).Inc()
}

func (metrics *Metrics) AddFetchedQuotes(count int) {
	metrics.fetchedQuotesCount.Add(float64(count))
}

func (metrics *Metrics) IncEmittedEvent(transport string) {
	metrics.emittedEventsCount.WithLabelValues(transport).Inc()
}

func (metrics *Metrics) IncEventError() {
	metrics.eventErrorCount.Inc()
}

// SetActiveTransport marks transport as the active one and clears the others.
func (metrics *Metrics) SetActiveTransport(transport string, known ...string) {
	for _, k := range known {
		metrics.transportGauge.WithLabelValues(k).Set(0)
	}
	metrics.transportGauge.WithLabelValues(transport).Set(1)
}
