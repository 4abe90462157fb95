package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/convbox/kit"
)

// RequestLog is one HTTP request record.
type RequestLog struct {
	Method     string
	Path       string
	StatusCode int
	DurationMs int64
	BytesOut   int64
	RequestID  string
	IPAddress  string
	UserAgent  string
}

// RequestLogger persists HTTP request logs asynchronously. Entries are
// batched and flushed on a ticker; when the buffer is full the entry is
// dropped rather than blocking the request path.
type RequestLogger struct {
	db   *sql.DB
	ch   chan *RequestLog
	stop chan struct{}
	done chan struct{}
}

// NewRequestLogger creates an async request logger. Recommended
// bufferSize: 1000.
func NewRequestLogger(db *sql.DB, bufferSize int) *RequestLogger {
	l := &RequestLogger{
		db:   db,
		ch:   make(chan *RequestLog, bufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.flushLoop()
	return l
}

// Log queues a request log entry. Never blocks.
func (l *RequestLogger) Log(entry *RequestLog) {
	select {
	case l.ch <- entry:
	default:
		slog.Warn("request log buffer full, entry dropped", "path", entry.Path)
	}
}

// Close drains the buffer and stops the flush goroutine.
func (l *RequestLogger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func (l *RequestLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*RequestLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("request log: begin tx", "error", err)
			return
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO http_request_logs
			(method, path, status_code, duration_ms, bytes_out,
			 request_id, ip_address, user_agent)
			VALUES (?,?,?,?,?,?,?,?)`)
		if err != nil {
			tx.Rollback()
			slog.Error("request log: prepare", "error", err)
			return
		}
		defer stmt.Close()

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx,
				e.Method, e.Path, e.StatusCode, e.DurationMs, e.BytesOut,
				e.RequestID, e.IPAddress, e.UserAgent); err != nil {
				slog.Error("request log: insert", "error", err, "path", e.Path)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("request log: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Middleware returns a chi-compatible middleware that records every
// request to the observability database and, when mm is non-nil, the
// request duration metric.
func (l *RequestLogger) Middleware(mm *MetricsManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)

			l.Log(&RequestLog{
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: sw.status,
				DurationMs: elapsed.Milliseconds(),
				BytesOut:   sw.bytes,
				RequestID:  kit.GetRequestID(r.Context()),
				IPAddress:  r.RemoteAddr,
				UserAgent:  r.UserAgent(),
			})
			if mm != nil {
				mm.Record(&Metric{
					Name:      MetricHTTPDurationMs,
					Timestamp: start,
					Value:     float64(elapsed.Milliseconds()),
					Labels:    map[string]string{"path": r.URL.Path, "method": r.Method},
					Unit:      "milliseconds",
				})
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}
