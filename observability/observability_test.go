package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/docextract/dbopen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestInit_CreatesAllTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"metrics_timeseries", "extraction_audit"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	// Idempotent.
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
}

// --- MetricsManager ---

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{FlushInterval: time.Hour})

	mm.Record(&Metric{
		Name:      MetricExtractionDurationMs,
		Timestamp: time.Now(),
		Value:     42.5,
		Unit:      "milliseconds",
		Labels:    map[string]string{"mime": "application/pdf"},
	})
	mm.RecordSimple(MetricBatchSize, 10, "count")
	mm.Count(MetricCacheHit, nil)

	// Close flushes the buffer.
	mm.Close()
	mm.Close()

	ctx := context.Background()
	metrics, err := mm.Query(ctx, MetricExtractionDurationMs, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("duration count: got %d", len(metrics))
	}
	if metrics[0].Value != 42.5 {
		t.Fatalf("value: got %f", metrics[0].Value)
	}
	if metrics[0].Labels["mime"] != "application/pdf" {
		t.Fatalf("labels: got %v", metrics[0].Labels)
	}

	all, err := mm.Query(ctx, "", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all: got %d", len(all))
	}
}

func TestMetricsManager_FlushOnBufferSize(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{BufferSize: 2, FlushInterval: time.Hour})
	defer mm.Close()

	mm.Duration(MetricExtractionDurationMs, 3*time.Millisecond, nil)
	mm.Duration(MetricExtractionDurationMs, 5*time.Millisecond, nil)

	sums, err := mm.Summarize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].Count != 2 || sums[0].Max != 5 || sums[0].Avg != 4 {
		t.Fatalf("summary: %+v", sums)
	}
}

func TestMetricsManager_QueryWithTimeRange(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{FlushInterval: time.Hour})

	now := time.Now()
	mm.Record(&Metric{Name: "m1", Timestamp: now.Add(-2 * time.Hour), Value: 1, Unit: "x"})
	mm.Record(&Metric{Name: "m1", Timestamp: now, Value: 2, Unit: "x"})
	mm.Close()

	start := now.Add(-time.Hour)
	metrics, err := mm.Query(context.Background(), "m1", &start, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("time-filtered count: got %d", len(metrics))
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{FlushInterval: time.Hour})

	old := time.Now().Add(-40 * 24 * time.Hour)
	mm.Record(&Metric{Name: "old_metric", Timestamp: old, Value: 1, Unit: "x"})
	mm.Record(&Metric{Name: "new_metric", Timestamp: time.Now(), Value: 2, Unit: "x"})
	mm.Close()

	deleted, err := mm.Cleanup(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted: got %d", deleted)
	}
}

func TestMetricsManager_NilIsNoop(t *testing.T) {
	var mm *MetricsManager
	mm.Record(&Metric{Name: "x"})
	mm.Count("x", nil)
	mm.Flush()
	if err := mm.Close(); err != nil {
		t.Fatal(err)
	}
}

// --- AuditLogger ---

func TestAuditLogger_LogSync(t *testing.T) {
	db := setupObsDB(t)
	a := NewAuditLogger(db, 10, nil)
	defer a.Close()

	ctx := context.Background()
	err := a.Log(ctx, &AuditEntry{
		RequestID:  "req-1",
		Operation:  "extract",
		MimeType:   "text/plain",
		Extractor:  "text",
		InputBytes: 12,
		DurationMs: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Query(ctx, AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("entries: %d", len(got))
	}
	e := got[0]
	if e.Status != "success" || e.RequestID != "req-1" || e.Extractor != "text" || e.InputBytes != 12 {
		t.Errorf("entry: %+v", e)
	}
	if e.EntryID == "" {
		t.Error("entry id not generated")
	}
}

func TestAuditLogger_LogAsync(t *testing.T) {
	db := setupObsDB(t)
	a := NewAuditLogger(db, 10, nil)

	a.LogAsync(&AuditEntry{Operation: "extract", MimeType: "application/pdf", CacheHit: true})
	a.LogAsync(&AuditEntry{Operation: "extract", MimeType: "image/png", ErrorCode: 6, ErrorKind: "not_found", ErrorMessage: "no backend"})
	a.Close() // drains

	ctx := context.Background()
	failed, err := a.Query(ctx, AuditFilter{Status: "error"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorCode != 6 || failed[0].MimeType != "image/png" {
		t.Fatalf("error entries: %+v", failed)
	}
	pdf, err := a.Query(ctx, AuditFilter{MimeType: "application/pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pdf) != 1 || !pdf[0].CacheHit {
		t.Fatalf("pdf entries: %+v", pdf)
	}
}

func TestAuditLogger_QueryValidation(t *testing.T) {
	db := setupObsDB(t)
	a := NewAuditLogger(db, 10, nil)
	defer a.Close()

	ctx := context.Background()
	if _, err := a.Query(ctx, AuditFilter{OrderBy: "1; DROP TABLE extraction_audit"}); err == nil {
		t.Error("expected error for bad order_by")
	}
	if _, err := a.Query(ctx, AuditFilter{OrderDir: "sideways"}); err == nil {
		t.Error("expected error for bad order_dir")
	}
}

func TestAuditLogger_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	a := NewAuditLogger(db, 10, nil)
	defer a.Close()

	ctx := context.Background()
	a.Log(ctx, &AuditEntry{Timestamp: time.Now().Add(-40 * 24 * time.Hour), Operation: "extract"})
	a.Log(ctx, &AuditEntry{Operation: "extract"})

	n, err := a.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted: got %d", n)
	}
}
