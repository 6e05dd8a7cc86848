// Package server exposes scans over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/CodeKage25/smart-audit-assistant/internal/analyzer"
	"github.com/CodeKage25/smart-audit-assistant/internal/logging"
	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/orchestrator"
	"github.com/CodeKage25/smart-audit-assistant/internal/scan"
	"github.com/CodeKage25/smart-audit-assistant/internal/store"
)

// Service is the scan API the server fronts. *orchestrator.Orchestrator
// implements it.
type Service interface {
	StartScan(ctx context.Context, req orchestrator.Request) (model.ScanReport, error)
	Submit(ctx context.Context, req orchestrator.Request) (string, error)
	GetStatus(ctx context.Context, id string) (model.ScanStatus, error)
	GetReport(ctx context.Context, id string) (model.ScanReport, error)
	Latest(ctx context.Context) (*model.ScanReport, error)
	History(ctx context.Context) ([]model.HistoryEntry, error)
	Analytics(ctx context.Context) (model.AnalyticsSnapshot, error)
}

type Options struct {
	Service        Service
	UploadsDir     string
	Extension      string
	MaxUploadBytes int64
	Logger         *pterm.Logger
}

type Server struct {
	svc        Service
	uploadsDir string
	extension  string
	maxUpload  int64
	log        *pterm.Logger
}

func New(opts Options) *Server {
	s := &Server{
		svc:        opts.Service,
		uploadsDir: opts.UploadsDir,
		extension:  strings.ToLower(opts.Extension),
		maxUpload:  opts.MaxUploadBytes,
		log:        logging.OrDiscard(opts.Logger),
	}
	if s.uploadsDir == "" {
		s.uploadsDir = "uploads"
	}
	if s.extension == "" {
		s.extension = ".sol"
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 10 << 20
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scan", s.handleScan)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /report/{id}", s.handleReport)
	mux.HandleFunc("GET /report", s.handleLatest)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /analytics", s.handleAnalytics)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s.accessLog(mux)
}

type scanRequest struct {
	orchestrator.Request
	Async bool `json:"async,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	ScanID string `json:"scanId,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed request body: %v", scan.ErrInvalidInput, err))
		return
	}

	if req.Async {
		id, err := s.svc.Submit(r.Context(), req.Request)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(model.StatusRunning)})
		return
	}

	// The scan keeps running if the client disconnects.
	report, err := s.svc.StartScan(context.WithoutCancel(r.Context()), req.Request)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Latest(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.History(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Analytics(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleUpload stores a source file under the uploads directory by its base
// name. A later upload with the same name replaces the earlier one.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload exceeds size limit", Code: "UPLOAD_TOO_LARGE"})
			return
		}
		s.writeError(w, fmt.Errorf("%w: multipart field \"file\" is required: %v", scan.ErrInvalidInput, err))
		return
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(header.Filename, "\\", "/")))
	if name == "/" || name == "." || !strings.HasSuffix(strings.ToLower(name), s.extension) {
		s.writeError(w, fmt.Errorf("%w: only %s files are accepted", scan.ErrUnsupportedFileType, s.extension))
		return
	}

	dest, err := s.saveUpload(name, file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload exceeds size limit", Code: "UPLOAD_TOO_LARGE"})
			return
		}
		s.log.Error("failed to store upload", s.log.Args("filename", name, "error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to store upload", Code: "PERSISTENCE_WRITE_FAILED"})
		return
	}
	s.log.Info("upload stored", s.log.Args("filename", name, "path", dest))
	writeJSON(w, http.StatusOK, map[string]string{"path": dest, "filename": name})
}

func (s *Server) saveUpload(name string, src io.Reader) (string, error) {
	dir, err := filepath.Abs(s.uploadsDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	var scanErr *orchestrator.ScanError
	if errors.As(err, &scanErr) {
		resp.ScanID = scanErr.ScanID
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", s.log.Args("code", code, "error", err.Error()))
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, scan.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, scan.ErrPathEscape):
		return http.StatusBadRequest, "PATH_ESCAPE"
	case errors.Is(err, scan.ErrUnsupportedFileType):
		return http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE"
	case errors.Is(err, scan.ErrNoMatchingFiles):
		return http.StatusBadRequest, "NO_MATCHING_FILES"
	case errors.Is(err, scan.ErrNotFound):
		return http.StatusBadRequest, "NOT_FOUND"
	case errors.Is(err, orchestrator.ErrScanInProgress):
		return http.StatusConflict, "SCAN_IN_PROGRESS"
	case errors.Is(err, analyzer.ErrOutputParse):
		return http.StatusInternalServerError, "OUTPUT_PARSE_ERROR"
	case errors.Is(err, analyzer.ErrStaticAnalysisFailed):
		return http.StatusInternalServerError, "STATIC_ANALYSIS_FAILED"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, store.ErrStatusStoreUnavailable):
		return http.StatusServiceUnavailable, "STATUS_STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "SCAN_FAILED"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request", s.log.Args(
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		))
	})
}
