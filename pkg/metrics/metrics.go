package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Mediation run metrics
	MediationRuns        prometheus.Counter
	MediationRunDuration prometheus.Histogram
	CallsComplete        prometheus.Counter
	CallsIncomplete      prometheus.Counter
	BranchesProcessed    prometheus.Counter
	BrokenBranches       prometheus.Counter
	TransactionsApplied  prometheus.Counter
	DuplicateTxDropped   prometheus.Counter

	// Billing metrics
	MissingRates     prometheus.Counter
	BTNSubstitutions prometheus.Counter
	MissingProfiles  prometheus.Counter
	RateCacheHits    prometheus.Counter
	RateCacheMisses  prometheus.Counter

	// Persistence and delivery metrics
	RecordsPersisted prometheus.Counter
	PersistErrors    prometheus.Counter
	RecordsPublished prometheus.Counter
	PublishErrors    prometheus.Counter
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		MediationRuns = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_runs_total",
			Help: "Total number of mediation batch runs",
		})
		MediationRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediation_run_duration_seconds",
			Help:    "Wall time of mediation batch runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		})
		CallsComplete = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_calls_complete_total",
			Help: "Calls whose billable branch reached a terminated dialog",
		})
		CallsIncomplete = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_calls_incomplete_total",
			Help: "Calls left incomplete for a later mediation run",
		})
		BranchesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_branches_total",
			Help: "Route-attempt branches assembled from transaction rows",
		})
		BrokenBranches = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_branches_broken_total",
			Help: "Branches abandoned after an illegal dialog transition",
		})
		TransactionsApplied = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_transactions_applied_total",
			Help: "Signaling transactions applied to branch state machines",
		})
		DuplicateTxDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_transactions_duplicate_total",
			Help: "Duplicate transaction rows dropped by content hash",
		})

		MissingRates = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_missing_rates_total",
			Help: "Billable branches priced at zero because no rate was found",
		})
		BTNSubstitutions = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_btn_substitutions_total",
			Help: "Caller ids replaced with the customer's billing telephone number",
		})
		MissingProfiles = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_missing_profiles_total",
			Help: "Branches finalized without billing fields because no carrier profile resolved",
		})
		RateCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_rate_cache_hits_total",
			Help: "Rate directory lookups served from cache",
		})
		RateCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_rate_cache_misses_total",
			Help: "Rate directory lookups that hit the backing store",
		})

		RecordsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_records_persisted_total",
			Help: "Finalized call records written to the calls table",
		})
		PersistErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_persist_errors_total",
			Help: "Call-record writes rolled back on error",
		})
		RecordsPublished = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_records_published_total",
			Help: "Finalized call records published to the message broker",
		})
		PublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediation_publish_errors_total",
			Help: "Failed broker publishes of finalized call records",
		})

		registry.MustRegister(
			MediationRuns, MediationRunDuration,
			CallsComplete, CallsIncomplete,
			BranchesProcessed, BrokenBranches,
			TransactionsApplied, DuplicateTxDropped,
			MissingRates, BTNSubstitutions, MissingProfiles,
			RateCacheHits, RateCacheMisses,
			RecordsPersisted, PersistErrors,
			RecordsPublished, PublishErrors,
		)

		logger.Debug("Mediation metrics registered")
	})
}

// Handler returns the HTTP handler serving the metric registry, or a 503
// handler when Init has not run yet.
func Handler() http.Handler {
	if registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not initialized", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Instrumentation points used by the mediation core. The nil guards let
// unit tests exercise the core without calling Init.

func RunStarted()           { inc(MediationRuns) }
func CallComplete()         { inc(CallsComplete) }
func CallIncomplete()       { inc(CallsIncomplete) }
func BranchProcessed()      { inc(BranchesProcessed) }
func BranchBroken()         { inc(BrokenBranches) }
func TransactionApplied()   { inc(TransactionsApplied) }
func DuplicateTransaction() { inc(DuplicateTxDropped) }
func MissingRate()          { inc(MissingRates) }
func BTNSubstituted()       { inc(BTNSubstitutions) }
func MissingProfile()       { inc(MissingProfiles) }
func RateCacheHit()         { inc(RateCacheHits) }
func RateCacheMiss()        { inc(RateCacheMisses) }
func RecordPersisted()      { inc(RecordsPersisted) }
func PersistError()         { inc(PersistErrors) }
func RecordPublished()      { inc(RecordsPublished) }
func PublishError()         { inc(PublishErrors) }

// ObserveRunDuration records a completed run's wall time in seconds.
func ObserveRunDuration(seconds float64) {
	if MediationRunDuration != nil {
		MediationRunDuration.Observe(seconds)
	}
}
