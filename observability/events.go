package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/convbox/dbopen"
	"github.com/hazyhaar/convbox/idgen"
)

// ConversionEvent is the persisted metadata of one conversion run.
// Payload bytes are never part of it.
type ConversionEvent struct {
	EventID     string
	Kind        string // "images-to-pdf" or "pdf-to-images"
	Status      string // "completed" or "error"
	ErrorCode   string
	InputFiles  int
	InputBytes  int64
	OutputBytes int64
	Pages       int
	DurationMs  int64
	SessionID   string
	Transport   string // "http" or "mcp"
	CreatedAt   time.Time
}

// EventLogger persists conversion events asynchronously and manages
// retention cleanup. Events are queued and written by a background
// goroutine so the BUSY retry backoff never delays a response.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *ConversionEvent
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the observability database
// and starts its writer goroutine.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		ch:    make(chan *ConversionEvent, 256),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.writeLoop()
	return l
}

// LogEvent queues a conversion event for persistence. Never blocks:
// when the buffer is full the event is dropped with a warning, so a
// slow or failing observability store never delays a conversion.
func (l *EventLogger) LogEvent(e ConversionEvent) {
	if e.EventID == "" {
		e.EventID = l.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	select {
	case l.ch <- &e:
	default:
		slog.Warn("conversion event buffer full, event dropped", "kind", e.Kind)
	}
}

// Close drains queued events and stops the writer goroutine. Safe to
// call more than once.
func (l *EventLogger) Close() error {
	l.once.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *EventLogger) writeLoop() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					l.write(e)
				default:
					return
				}
			}
		case e := <-l.ch:
			l.write(e)
		}
	}
}

func (l *EventLogger) write(e *ConversionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO conversion_event_logs (
			event_id, kind, status, error_code, input_files, input_bytes,
			output_bytes, pages, duration_ms, session_id, transport, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EventID, e.Kind, e.Status, e.ErrorCode, e.InputFiles, e.InputBytes,
		e.OutputBytes, e.Pages, e.DurationMs, e.SessionID, e.Transport,
		e.CreatedAt.Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "kind", e.Kind)
	}
}

// Recent returns the latest conversion events, newest first.
func (l *EventLogger) Recent(ctx context.Context, limit int) ([]ConversionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, kind, status, error_code, input_files, input_bytes,
		       output_bytes, pages, duration_ms, session_id, transport, created_at
		FROM conversion_event_logs
		ORDER BY created_at DESC, event_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversion events: %w", err)
	}
	defer rows.Close()

	var out []ConversionEvent
	for rows.Next() {
		var e ConversionEvent
		var errorCode, sessionID, transport sql.NullString
		var ts int64
		if err := rows.Scan(&e.EventID, &e.Kind, &e.Status, &errorCode,
			&e.InputFiles, &e.InputBytes, &e.OutputBytes, &e.Pages,
			&e.DurationMs, &sessionID, &transport, &ts); err != nil {
			return nil, fmt.Errorf("scan conversion event: %w", err)
		}
		e.ErrorCode = errorCode.String
		e.SessionID = sessionID.String
		e.Transport = transport.String
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// KindCount is one row of the per-kind/status breakdown.
type KindCount struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// Stats summarises the observability database for the admin endpoint.
type Stats struct {
	Conversions []KindCount `json:"conversions"`
	Requests    int64       `json:"http_requests"`
	AvgDuration float64     `json:"avg_conversion_ms"`
}

// QueryStats aggregates conversion and request counts.
func (l *EventLogger) QueryStats(ctx context.Context) (*Stats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT kind, status, COUNT(*) FROM conversion_event_logs
		GROUP BY kind, status ORDER BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	st := &Stats{}
	for rows.Next() {
		var kc KindCount
		if err := rows.Scan(&kc.Kind, &kc.Status, &kc.Count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Conversions = append(st.Conversions, kc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM http_request_logs").Scan(&st.Requests); err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	var avg sql.NullFloat64
	if err := l.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM conversion_event_logs WHERE status = 'completed'").Scan(&avg); err != nil {
		return nil, fmt.Errorf("avg duration: %w", err)
	}
	st.AvgDuration = avg.Float64
	return st, nil
}

// RetentionConfig specifies per-table retention in days. Zero means no
// cleanup for that table.
type RetentionConfig struct {
	HTTPLogsDays   int
	EventLogsDays  int
	MetricsDays    int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	type cleanupTarget struct {
		table  string
		column string
		days   int
	}
	targets := []cleanupTarget{
		{"http_request_logs", "created_at", cfg.HTTPLogsDays},
		{"conversion_event_logs", "created_at", cfg.EventLogsDays},
		{"metrics_timeseries", "timestamp", cfg.MetricsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := dbopen.Exec(ctx, db, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
