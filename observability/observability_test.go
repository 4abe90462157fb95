package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/convbox/dbopen"
)

func TestInit_Idempotent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM _observability_metadata").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("metadata rows = %d, want 3", n)
	}
}

func TestEventLogger_RoundTripAndStats(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	l := NewEventLogger(db)
	ctx := context.Background()

	l.LogEvent(ConversionEvent{
		Kind: "images-to-pdf", Status: "completed",
		InputFiles: 3, InputBytes: 3000, OutputBytes: 9000, Pages: 3,
		DurationMs: 120, Transport: "http",
	})
	l.LogEvent(ConversionEvent{
		Kind: "pdf-to-images", Status: "error", ErrorCode: "INVALID_PDF",
		InputFiles: 1, InputBytes: 50, DurationMs: 4, Transport: "mcp",
	})
	// Close drains the queue so the asserts see both rows.
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("Recent = %d events", len(events))
	}
	for _, e := range events {
		if e.Kind == "pdf-to-images" && e.ErrorCode != "INVALID_PDF" {
			t.Errorf("error code = %q", e.ErrorCode)
		}
	}

	st, err := l.QueryStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Conversions) != 2 {
		t.Fatalf("stats breakdown = %v", st.Conversions)
	}
	if st.AvgDuration != 120 {
		t.Errorf("avg duration = %v, want 120 (errors excluded)", st.AvgDuration)
	}
}

// WHAT: LogEvent against a broken store does not panic or propagate.
// WHY: observability must never fail a conversion.
func TestEventLogger_NonBlockingOnFailure(t *testing.T) {
	db := dbopen.OpenMemory(t) // schema deliberately not applied
	l := NewEventLogger(db)
	l.LogEvent(ConversionEvent{Kind: "images-to-pdf", Status: "completed"})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMetricsManager_RecordQueryClose(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	mm := NewMetricsManager(db, 100, time.Hour)
	mm.RecordSimple(MetricConversionPages, 7, "count")
	mm.Record(&Metric{
		Name: MetricConversionDurationMs, Timestamp: time.Now(), Value: 250,
		Labels: map[string]string{"kind": "pdf-to-images"}, Unit: "milliseconds",
	})
	// Close flushes the buffer.
	if err := mm.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := mm.Query(MetricConversionDurationMs, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 250 {
		t.Fatalf("Query = %+v", got)
	}
	if got[0].Labels["kind"] != "pdf-to-images" {
		t.Fatalf("labels = %v", got[0].Labels)
	}
}

func TestRequestLogger_MiddlewarePersists(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	rl := NewRequestLogger(db, 16)

	h := rl.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Close drains and flushes the queued entry.
	if err := rl.Close(); err != nil {
		t.Fatal(err)
	}

	var path string
	var status int
	var bytesOut int64
	err := db.QueryRow(
		"SELECT path, status_code, bytes_out FROM http_request_logs").
		Scan(&path, &status, &bytesOut)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/api/health" || status != http.StatusTeapot || bytesOut != 15 {
		t.Fatalf("logged (%q, %d, %d)", path, status, bytesOut)
	}
}

func TestCleanup_Retention(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	old := time.Now().AddDate(0, 0, -30).Unix()
	if _, err := db.Exec(`INSERT INTO conversion_event_logs
		(event_id, kind, status, created_at) VALUES ('evt_old', 'images-to-pdf', 'completed', ?)`, old); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO conversion_event_logs
		(event_id, kind, status) VALUES ('evt_new', 'images-to-pdf', 'completed')`); err != nil {
		t.Fatal(err)
	}

	if err := Cleanup(context.Background(), db, RetentionConfig{EventLogsDays: 7}); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM conversion_event_logs").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rows after cleanup = %d, want 1", n)
	}
}
