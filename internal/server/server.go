// Package server exposes a cqlstore Backend over HTTP.
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
	"strconv"
	"strings"
	"time"

	"github.com/adrianmcphee/cqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
)

const (
	// DefaultMaxBodyBytes caps request bodies (values and media uploads)
	DefaultMaxBodyBytes = 32 << 20

	// MetadataHeader carries JSON metadata on collection reads and writes
	MetadataHeader = "X-Metadata"

	requestIDHeader = "X-Request-ID"
)

// Options configures a Server
type Options struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string

	// StagingDir is where media uploads are staged before Save.
	// It lives on the backend's staging filesystem.
	StagingDir string

	// MaxBodyBytes caps request bodies; zero means DefaultMaxBodyBytes
	MaxBodyBytes int64

	// Gatherer serves /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer

	Logger cqlstore.Logger
}

// Server handles HTTP requests for collections and media
type Server struct {
	backend *cqlstore.Backend
	staging afero.Fs
	opts    Options
	logger  cqlstore.Logger
	http    *http.Server
}

// New creates a server for backend. Uploads are staged on the backend's
// staging filesystem so MediaStore.Save can read and remove them.
func New(backend *cqlstore.Backend, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.StagingDir == "" {
		opts.StagingDir = filepath.Join(os.TempDir(), "cqlstore-staging")
	}
	logger := opts.Logger
	if logger == nil {
		logger = &cqlstore.NoOpLogger{}
	}

	s := &Server{
		backend: backend,
		staging: backend.StagingFs(),
		opts:    opts,
		logger:  logger,
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, wrapped with request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /collections/{collection}", s.handleSelect)
	mux.HandleFunc("GET /collections/{collection}/{key}", s.handleGet)
	mux.HandleFunc("PUT /collections/{collection}/{key}", s.handleSet)
	mux.HandleFunc("DELETE /collections/{collection}/{key}", s.handleDelete)

	mux.HandleFunc("GET /media/{record}/{name}", s.handleMediaGet)
	mux.HandleFunc("PUT /media/{record}/{name}", s.handleMediaPut)
	mux.HandleFunc("DELETE /media/{record}/{name}", s.handleMediaDelete)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /features", s.handleFeatures)
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return s.withRequestLog(mux)
}

// Start listens on Options.Addr and blocks until Shutdown
func (s *Server) Start() error {
	if err := s.ensureStagingDir(); err != nil {
		return err
	}
	s.logger.Info("listening", "addr", s.opts.Addr, "staging", s.opts.StagingDir)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) ensureStagingDir() error {
	if err := s.staging.MkdirAll(s.opts.StagingDir, cqlstore.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create staging dir %s: %w", s.opts.StagingDir, err)
	}
	return nil
}

type recordBody struct {
	Value    json.RawMessage `json:"value"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	sel := cqlstore.AllKeys()
	if raw := r.URL.Query().Get("keys"); raw != "" {
		sel = cqlstore.Keys(splitKeys(raw)...)
	}

	records, err := s.backend.Select(r.Context(), collection, sel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make(map[string]recordBody, len(records))
	for key, rec := range records {
		out[key] = recordBody{
			Value:    json.RawMessage(rec.Value),
			Metadata: rawOrNil(rec.Metadata),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	collection, key := r.PathValue("collection"), r.PathValue("key")

	rec, err := s.backend.Store().GetRecord(r.Context(), collection, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": cqlstore.ErrNotFound.Error()})
		return
	}

	if rec.Metadata != "" {
		w.Header().Set(MetadataHeader, rec.Metadata)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, rec.Value)
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	collection, key := r.PathValue("collection"), r.PathValue("key")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON value"})
		return
	}

	var opts []cqlstore.SetOption
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		ttl, err := strconv.Atoi(raw)
		if err != nil || ttl < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ttl must be a non-negative integer"})
			return
		}
		opts = append(opts, cqlstore.WithExpiration(ttl))
	}
	if raw := r.Header.Get(MetadataHeader); raw != "" {
		if !json.Valid([]byte(raw)) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": MetadataHeader + " must be JSON"})
			return
		}
		opts = append(opts, cqlstore.WithMetadata(json.RawMessage(raw)))
	}

	if err := s.backend.Set(r.Context(), collection, key, json.RawMessage(body), opts...); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Delete(r.Context(), r.PathValue("collection"), r.PathValue("key")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMediaGet(w http.ResponseWriter, r *http.Request) {
	err := s.backend.Media().Send(r.Context(), r.PathValue("record"), r.PathValue("name"), cqlstore.NewHTTPSink(w))
	if err != nil {
		s.writeError(w, r, err)
	}
}

func (s *Server) handleMediaPut(w http.ResponseWriter, r *http.Request) {
	record, name := r.PathValue("record"), r.PathValue("name")

	stagedPath, err := s.stage(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		s.logger.Warn("staging upload failed", "record", record, "name", name, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	meta := cqlstore.MediaMetadata{
		ContentType: r.Header.Get("Content-Type"),
		Filename:    name,
	}
	err = s.backend.Media().Save(r.Context(), record, name, meta, stagedPath)
	switch {
	case err == nil:
	case cqlstore.IsCommitted(err):
		// Stored; the leftover staged file is only logged
		s.logger.Warn("staged upload left behind", "path", stagedPath, "error", err)
	default:
		if rmErr := s.staging.Remove(stagedPath); rmErr != nil {
			s.logger.Warn("failed to discard staged upload", "path", stagedPath, "error", rmErr)
		}
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleMediaDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Media().Delete(r.Context(), r.PathValue("record"), r.PathValue("name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.backend.State()
	status := http.StatusOK
	if state != cqlstore.StateReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"state":     state.String(),
		"namespace": s.backend.Config().Namespace,
	})
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"description": cqlstore.Description,
		"features":    cqlstore.Features,
	})
}

// splitKeys splits a comma-separated key list, dropping empty entries
func splitKeys(raw string) []string {
	keys := make([]string, 0, strings.Count(raw, ",")+1)
	for _, key := range strings.Split(raw, ",") {
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// stage copies an upload body into a fresh file in the staging directory
func (s *Server) stage(body io.Reader) (string, error) {
	if err := s.ensureStagingDir(); err != nil {
		return "", err
	}
	path := filepath.Join(s.opts.StagingDir, "upload-"+cqlstore.NewID())

	f, err := s.staging.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, cqlstore.DefaultFilePermissions)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		s.staging.Remove(path)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		s.staging.Remove(path)
		return "", fmt.Errorf("close staged file: %w", err)
	}
	return path, nil
}

// writeError maps backend errors to HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cqlstore.ErrInvalidCollection), errors.Is(err, cqlstore.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, cqlstore.ErrNotFound):
		return http.StatusNotFound
	case cqlstore.IsConnectionError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, cqlstore.ErrQuery), errors.Is(err, cqlstore.ErrProvisioning):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
