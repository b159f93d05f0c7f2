// Package metrics provides Prometheus metrics for TimeLake components.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerOnce sync.Once

const (
	// Namespace is the Prometheus namespace for all TimeLake metrics.
	Namespace = "timelake"

	// Subsystem constants for metric organization.
	SubsystemCatalog    = "catalog"
	SubsystemTable      = "table"
	SubsystemPreprocess = "preprocess"
	SubsystemLake       = "lake"
)

// Label constants for consistent labeling across metrics.
const (
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelEntryType = "entry_type"
	LabelDataset   = "dataset"
	LabelMode      = "mode"
	LabelAction    = "action"
	LabelCheck     = "check"
	LabelFeature   = "feature"
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// Catalog Metrics

	// CatalogOperationsTotal counts catalog store operations.
	CatalogOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCatalog,
			Name:      "operations_total",
			Help:      "Total number of catalog operations",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// CatalogOperationDuration tracks catalog operation latency.
	CatalogOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCatalog,
			Name:      "operation_duration_seconds",
			Help:      "Duration of catalog operations in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelOperation},
	)

	// CatalogEntriesAddedTotal counts entries added by type.
	CatalogEntriesAddedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCatalog,
			Name:      "entries_added_total",
			Help:      "Total number of catalog entries added",
		},
		[]string{LabelEntryType},
	)

	// Table Metrics

	// TableCommitsTotal counts committed table versions.
	TableCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "commits_total",
			Help:      "Total number of table commits",
		},
		[]string{LabelOperation},
	)

	// TableCommitConflictsTotal counts commits rejected because the version
	// already existed.
	TableCommitConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "commit_conflicts_total",
			Help:      "Total number of table commits lost to a concurrent writer",
		},
	)

	// TableCommitDuration tracks the duration of table writes including data files.
	TableCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "commit_duration_seconds",
			Help:      "Duration of table commits in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelOperation},
	)

	// TableFilesWrittenTotal counts data files written.
	TableFilesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "files_written_total",
			Help:      "Total number of data files written",
		},
		[]string{LabelOperation},
	)

	// TableBytesWrittenTotal counts data file bytes written.
	TableBytesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "bytes_written_total",
			Help:      "Total bytes of data files written",
		},
		[]string{LabelOperation},
	)

	// TableFilesScannedTotal counts data files read by scans and merges.
	TableFilesScannedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "files_scanned_total",
			Help:      "Total number of data files read",
		},
	)

	// TableFilesPrunedTotal counts data files skipped by partition pruning.
	TableFilesPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "files_pruned_total",
			Help:      "Total number of data files skipped by partition pruning",
		},
	)

	// TableRowsMergedTotal counts merged rows by action (updated, inserted).
	TableRowsMergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTable,
			Name:      "rows_merged_total",
			Help:      "Total number of rows updated or inserted by merges",
		},
		[]string{LabelAction},
	)

	// Preprocess Metrics

	// PreprocessRowsTotal counts rows that passed preprocessing.
	PreprocessRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemPreprocess,
			Name:      "rows_total",
			Help:      "Total number of rows preprocessed",
		},
	)

	// PreprocessRejectionsTotal counts frames rejected by validation.
	PreprocessRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemPreprocess,
			Name:      "rejections_total",
			Help:      "Total number of frames rejected by preprocessing validation",
		},
		[]string{LabelCheck},
	)

	// Lake Metrics

	// LakeWritesTotal counts dataset writes by mode and outcome.
	LakeWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLake,
			Name:      "writes_total",
			Help:      "Total number of dataset writes",
		},
		[]string{LabelDataset, LabelMode, LabelStatus},
	)

	// LakeRowsWrittenTotal counts rows written to datasets.
	LakeRowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLake,
			Name:      "rows_written_total",
			Help:      "Total number of rows written to datasets",
		},
		[]string{LabelDataset},
	)

	// LakeRowsReadTotal counts rows returned by dataset reads.
	LakeRowsReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLake,
			Name:      "rows_read_total",
			Help:      "Total number of rows returned by dataset reads",
		},
		[]string{LabelDataset},
	)

	// LakeDatasetsCreatedTotal counts datasets created on first write.
	LakeDatasetsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLake,
			Name:      "datasets_created_total",
			Help:      "Total number of datasets created",
		},
	)

	// LakeFeaturesComputedTotal counts features computed on read.
	LakeFeaturesComputedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLake,
			Name:      "features_computed_total",
			Help:      "Total number of features computed by dataset reads",
		},
		[]string{LabelFeature},
	)

	// LakeOperationDuration tracks write, upsert and read latency.
	LakeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLake,
			Name:      "operation_duration_seconds",
			Help:      "Duration of dataset operations in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{LabelOperation},
	)

	// allMetrics contains all metrics for registration.
	allMetrics = []prometheus.Collector{
		// Catalog
		CatalogOperationsTotal,
		CatalogOperationDuration,
		CatalogEntriesAddedTotal,
		// Table
		TableCommitsTotal,
		TableCommitConflictsTotal,
		TableCommitDuration,
		TableFilesWrittenTotal,
		TableBytesWrittenTotal,
		TableFilesScannedTotal,
		TableFilesPrunedTotal,
		TableRowsMergedTotal,
		// Preprocess
		PreprocessRowsTotal,
		PreprocessRejectionsTotal,
		// Lake
		LakeWritesTotal,
		LakeRowsWrittenTotal,
		LakeRowsReadTotal,
		LakeDatasetsCreatedTotal,
		LakeFeaturesComputedTotal,
		LakeOperationDuration,
	}
)

// Register registers all TimeLake metrics with the default Prometheus registry.
// It is safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		for _, m := range allMetrics {
			prometheus.MustRegister(m)
		}
	})
}

// RegisterWith registers all TimeLake metrics with the given registry.
func RegisterWith(reg prometheus.Registerer) {
	for _, m := range allMetrics {
		reg.MustRegister(m)
	}
}

// NewRegistry creates a new Prometheus registry with all TimeLake metrics
// and standard Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	RegisterWith(reg)

	return reg
}

// ObserveCatalog records one catalog operation.
func ObserveCatalog(operation string, start time.Time, err error) {
	CatalogOperationsTotal.WithLabelValues(operation, Status(err)).Inc()
	CatalogOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// WriteTextfile gathers reg and writes it in the text exposition format,
// suitable for the node exporter textfile collector.
func WriteTextfile(reg prometheus.Gatherer, path string) error {
	return prometheus.WriteToTextfile(path, reg)
}

// Status maps an error to the status label value.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
