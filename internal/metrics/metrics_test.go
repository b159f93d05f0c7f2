package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	// Go runtime metrics are always present.
	if len(mfs) == 0 {
		t.Error("expected metrics to be registered, got none")
	}
}

func TestRegisterWith(t *testing.T) {
	reg := prometheus.NewRegistry()

	RegisterWith(reg)

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedCount := 19
	if len(allMetrics) != expectedCount {
		t.Errorf("expected %d metrics in allMetrics, got %d", expectedCount, len(allMetrics))
	}
}

func TestMetricLabels(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{
			name: "CatalogOperationsTotal",
			fn: func() {
				CatalogOperationsTotal.WithLabelValues("add", StatusOK).Inc()
			},
		},
		{
			name: "CatalogEntriesAddedTotal",
			fn: func() {
				CatalogEntriesAddedTotal.WithLabelValues("dataset").Inc()
			},
		},
		{
			name: "TableCommitsTotal",
			fn: func() {
				TableCommitsTotal.WithLabelValues("merge").Inc()
			},
		},
		{
			name: "TableCommitDuration",
			fn: func() {
				TableCommitDuration.WithLabelValues("append").Observe(0.2)
			},
		},
		{
			name: "LakeFeaturesComputedTotal",
			fn: func() {
				LakeFeaturesComputedTotal.WithLabelValues("price_lag_1").Inc()
			},
		},
		{
			name: "TableRowsMergedTotal",
			fn: func() {
				TableRowsMergedTotal.WithLabelValues("updated").Add(3)
			},
		},
		{
			name: "PreprocessRejectionsTotal",
			fn: func() {
				PreprocessRejectionsTotal.WithLabelValues("timestamp_missing").Inc()
			},
		},
		{
			name: "LakeWritesTotal",
			fn: func() {
				LakeWritesTotal.WithLabelValues("prices", "append", StatusOK).Inc()
			},
		},
		{
			name: "LakeOperationDuration",
			fn: func() {
				LakeOperationDuration.WithLabelValues("read").Observe(1.5)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("metric %s panicked: %v", tt.name, r)
				}
			}()
			tt.fn()
		})
	}
}

func TestNamespaceAndSubsystems(t *testing.T) {
	if Namespace != "timelake" {
		t.Errorf("Namespace = %q, want timelake", Namespace)
	}

	subsystems := map[string]string{
		"catalog":    SubsystemCatalog,
		"table":      SubsystemTable,
		"preprocess": SubsystemPreprocess,
		"lake":       SubsystemLake,
	}
	for want, got := range subsystems {
		if got != want {
			t.Errorf("subsystem = %q, want %q", got, want)
		}
	}
}

func TestStatus(t *testing.T) {
	if got := Status(nil); got != StatusOK {
		t.Errorf("Status(nil) = %q, want %q", got, StatusOK)
	}
	if got := Status(errors.New("boom")); got != StatusError {
		t.Errorf("Status(err) = %q, want %q", got, StatusError)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterWith(reg)
	ObserveCatalog("get", time.Now(), nil)

	path := filepath.Join(t.TempDir(), "timelake.prom")
	if err := WriteTextfile(reg, path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "timelake_catalog_operations_total") {
		t.Errorf("textfile missing catalog counter:\n%s", data)
	}
}
