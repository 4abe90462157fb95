package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/convbox/config"
	"github.com/hazyhaar/convbox/convert"
	"github.com/hazyhaar/convbox/intake"
	"github.com/hazyhaar/convbox/kit"
	"github.com/hazyhaar/convbox/observability"
	"github.com/hazyhaar/convbox/session"
	"github.com/hazyhaar/convbox/shield"
)

// multipart parse ceiling before spilling to disk
const maxMultipartMemory = 32 << 20

type server struct {
	cfg      *config.Config
	svc      *convert.Service
	sessions *session.Store
	events   *observability.EventLogger
	metrics  *observability.MetricsManager
	logger   *slog.Logger
}

func newServer(cfg *config.Config, svc *convert.Service, sessions *session.Store,
	events *observability.EventLogger, metrics *observability.MetricsManager,
	logger *slog.Logger) *server {
	return &server{
		cfg:      cfg,
		svc:      svc,
		sessions: sessions,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *server) serve(ctx context.Context, reqLog *observability.RequestLogger) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestIDContext)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.Stack(map[string]shield.RateLimitConfig{
		"POST /api/convert/images-to-pdf": {MaxRequests: 30, WindowSeconds: 60},
		"POST /api/convert/pdf-to-images": {MaxRequests: 30, WindowSeconds: 60},
	}, ctx.Done()) {
		r.Use(mw)
	}
	r.Use(reqLog.Middleware(s.metrics))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/convert/images-to-pdf", s.handleImagesToPDF)
		r.Post("/convert/pdf-to-images", s.handlePDFToImages)

		r.Post("/sessions", s.handleSessionCreate)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleSessionGet)
			r.Delete("/", s.handleSessionDelete)
			r.Post("/files", s.handleSessionAddFiles)
			r.Delete("/files/{index}", s.handleSessionRemoveFile)
			r.Post("/files/{index}/move", s.handleSessionMoveFile)
			r.Put("/files/{index}/crop", s.handleSessionCrop)
			r.Post("/convert/{kind}", s.handleSessionConvert)
			r.Get("/downloads", s.handleDownloadList)
			r.Get("/downloads/{downloadID}", s.handleDownloadFetch)
			r.Delete("/downloads/{downloadID}", s.handleDownloadRemove)
		})

		r.Get("/stats", s.handleStats)
	})

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		s.logger.Error("static fs", "error", err)
		os.Exit(1)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, static, "index.html")
	})

	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	s.logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown", "error", err)
	}
	s.logger.Info("server stopped")
}

func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(kit.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// --- Direct conversion endpoints ---

// handleImagesToPDF converts an uploaded image batch into a single PDF,
// one page per image in upload order.
func (s *server) handleImagesToPDF(w http.ResponseWriter, r *http.Request) {
	files, err := readMultipartFiles(r, "files", s.cfg.MaxImageBytes())
	if err != nil {
		s.writeConvertError(w, r, convert.KindImagesToPDF, len(files), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	out, _, err := s.svc.RunImagesToPDF(ctx, files, nil)
	s.recordRun(r.Context(), convert.KindImagesToPDF, out, files, start, err)
	if err != nil {
		s.writeConvertError(w, r, convert.KindImagesToPDF, len(files), err)
		return
	}
	writeAttachment(w, out)
}

// handlePDFToImages converts an uploaded PDF into a zip of per-page PNGs.
func (s *server) handlePDFToImages(w http.ResponseWriter, r *http.Request) {
	files, err := readMultipartFiles(r, "file", s.cfg.MaxPDFBytes())
	if err != nil {
		s.writeConvertError(w, r, convert.KindPDFToImages, len(files), err)
		return
	}
	// Extra parts under the field are ignored; only the first is converted.
	files = files[:1]

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	out, _, err := s.svc.RunPDFToImages(ctx, files[0].Name, files[0].Data, nil)
	s.recordRun(r.Context(), convert.KindPDFToImages, out, files, start, err)
	if err != nil {
		s.writeConvertError(w, r, convert.KindPDFToImages, 1, err)
		return
	}
	writeAttachment(w, out)
}

// readMultipartFiles reads every part under field into memory. A missing
// field is reported with the conversion error vocabulary so both direct
// endpoints speak the same error dialect as the engine.
func readMultipartFiles(r *http.Request, field string, perFileCap int64) ([]convert.InputFile, error) {
	// The engine enforces per-file limits with proper error codes; this
	// outer cap only stops unreasonable request bodies early.
	r.Body = http.MaxBytesReader(nil, r.Body, 16*perFileCap)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, convert.ErrNoUpload(field, err)
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, convert.ErrNoUpload(field, nil)
	}

	files := make([]convert.InputFile, 0, len(headers))
	for _, h := range headers {
		data, err := readPart(h)
		if err != nil {
			return nil, err
		}
		files = append(files, convert.InputFile{
			Name:     h.Filename,
			MIMEType: h.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return files, nil
}

func readPart(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, convert.ErrFileRead(h.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, convert.ErrFileRead(h.Filename, err)
	}
	return data, nil
}

// --- Session endpoints ---

func (s *server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         sess.ID,
		"created_at": sess.CreatedAt,
	})
}

func (s *server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        sess.ID,
		"images":    sess.Images.Entries(),
		"documents": sess.Documents.Entries(),
		"downloads": sess.Downloads.List(),
	})
}

func (s *server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	s.sessions.Delete(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSessionAddFiles(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	list, ok := s.list(w, r, sess)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 16*s.cfg.MaxPDFBytes())
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var files []intake.File
	for _, h := range r.MultipartForm.File["files"] {
		data, err := readPart(h)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		files = append(files, intake.File{
			Name:     h.Filename,
			MIMEType: h.Header.Get("Content-Type"),
			Size:     int64(len(data)),
			Data:     data,
		})
	}

	accepted, rejected := list.Add(files...)
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"rejected": rejected,
		"entries":  list.Entries(),
	})
}

func (s *server) handleSessionRemoveFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	list, ok := s.list(w, r, sess)
	if !ok {
		return
	}
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := list.RemoveAt(i); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": list.Entries()})
}

func (s *server) handleSessionMoveFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	list, ok := s.list(w, r, sess)
	if !ok {
		return
	}
	from, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		To int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := list.MoveEntry(from, req.To); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": list.Entries()})
}

func (s *server) handleSessionCrop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxImageBytes()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Cropping applies to image entries only.
	if err := sess.Images.Crop(i, data); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": sess.Images.Entries()})
}

// handleSessionConvert runs the pipeline over the session's staged files
// and publishes the result as a download record instead of streaming it.
func (s *server) handleSessionConvert(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	kind := convert.Kind(chi.URLParam(r, "kind"))

	var list *intake.List
	switch kind {
	case convert.KindImagesToPDF:
		list = sess.Images
	case convert.KindPDFToImages:
		list = sess.Documents
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown conversion %q", kind))
		return
	}

	if !list.TryBegin() {
		writeError(w, http.StatusConflict, errors.New("a conversion is already running for this session"))
		return
	}
	defer list.FinishRun()

	ctx, cancel := context.WithTimeout(kit.WithSessionID(r.Context(), sess.ID), s.cfg.RequestTimeout)
	defer cancel()

	inputs := list.Snapshot()
	files := make([]convert.InputFile, 0, len(inputs))
	for _, f := range inputs {
		files = append(files, convert.InputFile{Name: f.Name, MIMEType: f.MIMEType, Data: f.Data})
	}

	start := time.Now()
	var out *convert.Outcome
	var run *convert.Run
	var err error
	switch kind {
	case convert.KindImagesToPDF:
		out, run, err = s.svc.RunImagesToPDF(ctx, files, nil)
	case convert.KindPDFToImages:
		if len(files) == 0 {
			err = convert.ErrNoUpload("file", nil)
		} else {
			out, run, err = s.svc.RunPDFToImages(ctx, files[0].Name, files[0].Data, nil)
		}
	}
	s.recordRun(ctx, kind, out, files, start, err)
	if err != nil {
		ce := convert.Classify(err)
		body := map[string]any{"error": ce.Summary, "code": ce.Code, "details": ce.Details}
		if run != nil {
			body["stages"] = run.Stages()
		}
		writeJSON(w, ce.Status, body)
		return
	}

	rec := sess.Downloads.Publish(out.StampedName, out.ContentType, out.Data)
	writeJSON(w, http.StatusOK, map[string]any{
		"download": rec,
		"stages":   run.Stages(),
		"pages":    out.Pages,
	})
}

// --- Download endpoints ---

func (s *server) handleDownloadList(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloads": sess.Downloads.List()})
}

func (s *server) handleDownloadFetch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "downloadID")
	rec, err := sess.Downloads.Begin(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	if _, err := w.Write(rec.Bytes()); err != nil {
		if ferr := sess.Downloads.Fail(id, err.Error()); ferr != nil {
			s.logger.Warn("download fail mark", "error", ferr)
		}
		return
	}
	if err := sess.Downloads.Complete(id); err != nil {
		s.logger.Warn("download complete mark", "error", err)
	}
}

func (s *server) handleDownloadRemove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Downloads.Remove(chi.URLParam(r, "downloadID"))
	w.WriteHeader(http.StatusNoContent)
}

// --- Admin ---

// handleStats exposes aggregate observability counters. Guarded by Basic
// auth against the configured bcrypt hash; absent hash disables the
// endpoint entirely.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminPassHash == "" {
		http.NotFound(w, r)
		return
	}
	_, pass, ok := r.BasicAuth()
	if !ok || bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPassHash), []byte(pass)) != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="convbox"`)
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	st, err := s.events.QueryStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Helpers ---

func (s *server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return sess, true
}

// list picks the intake list addressed by the ?list= query parameter,
// defaulting to images.
func (s *server) list(w http.ResponseWriter, r *http.Request, sess *session.Session) (*intake.List, bool) {
	switch r.URL.Query().Get("list") {
	case "", "images":
		return sess.Images, true
	case "documents":
		return sess.Documents, true
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown list %q", r.URL.Query().Get("list")))
		return nil, false
	}
}

func (s *server) recordRun(ctx context.Context, kind convert.Kind, out *convert.Outcome,
	files []convert.InputFile, start time.Time, err error) {
	var inBytes int64
	for _, f := range files {
		inBytes += int64(len(f.Data))
	}
	ev := observability.ConversionEvent{
		Kind:       string(kind),
		Status:     "completed",
		InputFiles: len(files),
		InputBytes: inBytes,
		DurationMs: time.Since(start).Milliseconds(),
		SessionID:  kit.GetSessionID(ctx),
		Transport:  kit.GetTransport(ctx),
	}
	if err != nil {
		ev.Status = "error"
		ev.ErrorCode = string(convert.Classify(err).Code)
	} else if out != nil {
		ev.OutputBytes = int64(len(out.Data))
		ev.Pages = out.Pages
		s.metrics.RecordSimple(observability.MetricConversionPages, float64(out.Pages), "count")
		s.metrics.RecordSimple(observability.MetricOutputBytes, float64(len(out.Data)), "bytes")
	}
	s.metrics.Record(&observability.Metric{
		Name:      observability.MetricConversionDurationMs,
		Timestamp: start,
		Value:     float64(ev.DurationMs),
		Labels:    map[string]string{"kind": string(kind), "status": ev.Status},
		Unit:      "milliseconds",
	})
	s.metrics.RecordSimple(observability.MetricUploadBytes, float64(inBytes), "bytes")
	s.events.LogEvent(ev)
}

func (s *server) writeConvertError(w http.ResponseWriter, r *http.Request, kind convert.Kind, n int, err error) {
	ce := convert.Classify(err)
	if ce.Status >= 500 {
		s.logger.Error("conversion failed", "kind", kind, "code", ce.Code, "error", err)
	} else {
		s.logger.Debug("conversion rejected", "kind", kind, "code", ce.Code, "files", n)
	}
	writeJSON(w, ce.Status, map[string]any{
		"error":   ce.Summary,
		"code":    ce.Code,
		"details": ce.Details,
	})
}

func writeAttachment(w http.ResponseWriter, out *convert.Outcome) {
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Write(out.Data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	msg := err.Error()
	// MaxBytesReader text leaks no detail worth hiding, but normalise it.
	if strings.Contains(msg, "request body too large") {
		code = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, code, map[string]string{"error": msg})
}
