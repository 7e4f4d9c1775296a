// Package httpapi serves configured resources over HTTP.
//
// Routes per resource:
//
//	GET    /{resource}        list (page, limit, where.*, orderBy.*, includes)
//	POST   /{resource}        create
//	GET    /{resource}/{id}   read (where.*, orderBy.*, includes)
//	PATCH  /{resource}/{id}   update
//	DELETE /{resource}/{id}   soft delete; ?soft=false removes
//
// Every contract built from a request is external and subject to the
// resource whitelist.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
	"github.com/roach88/repokit/internal/service"
)

// maxBodyBytes caps request payloads.
const maxBodyBytes = 1 << 20

// Services resolves resource names. *app.App implements it.
type Services interface {
	Service(name string) (*service.Service[repository.Record], bool)
}

// Options configures a Server.
type Options struct {
	// AllowedOrigins for CORS. Empty allows all origins.
	AllowedOrigins []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	services Services
	logger   *slog.Logger
	handler  http.Handler
}

// New creates a Server.
func New(services Services, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{services: services, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{resource}", s.handleList)
	mux.HandleFunc("POST /{resource}", s.handleCreate)
	mux.HandleFunc("GET /{resource}/{id}", s.handleGet)
	mux.HandleFunc("PATCH /{resource}/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /{resource}/{id}", s.handleDelete)

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	s.handler = c.Handler(s.logRequests(mux))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server started", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) service(w http.ResponseWriter, r *http.Request) (*service.Service[repository.Record], bool) {
	name := r.PathValue("resource")
	svc, ok := s.services.Service(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "RESOURCE_NOT_FOUND", Message: fmt.Sprintf("unknown resource %q", name)})
	}
	return svc, ok
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	q, err := parseListQuery(r.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_QUERY", Message: err.Error()})
		return
	}

	list, err := svc.FindAll(r.Context(), q.pagination, &q.contract)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list.Meta != nil {
		writeJSON(w, http.StatusOK, struct {
			Data  []service.Resource `json:"data"`
			Meta  *repository.Meta   `json:"meta"`
			Links *repository.Links  `json:"links,omitempty"`
		}{list.Data, list.Meta, list.Links})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	q, err := parseListQuery(r.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_QUERY", Message: err.Error()})
		return
	}

	res, err := svc.FindOne(r.Context(), r.PathValue("id"), &q.contract)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	res, err := svc.CreateOne(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	res, err := svc.UpdateOne(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	soft := true
	if v := r.URL.Query().Get("soft"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_QUERY", Message: "soft must be a boolean"})
			return
		}
		soft = b
	}

	res, err := svc.DeleteOne(r.Context(), r.PathValue("id"), soft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !soft {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func readPayload(w http.ResponseWriter, r *http.Request) (repository.Payload, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Code: "INVALID_PAYLOAD", Message: err.Error()})
		return nil, false
	}
	payload, err := repository.DecodePayload(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_PAYLOAD", Message: err.Error()})
		return nil, false
	}
	return payload, true
}

// errorBody is the JSON form of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusOf maps repository error codes to HTTP statuses.
func statusOf(code repoerr.Code) int {
	switch code {
	case repoerr.CodeNotFound:
		return http.StatusNotFound
	case repoerr.CodeAlreadyDeleted:
		return http.StatusConflict
	case repoerr.CodeFilterFieldNotAllowed, repoerr.CodeIncludeNotAllowed:
		return http.StatusUnprocessableEntity
	case repoerr.CodeInvalidIdentifierFormat, repoerr.CodeInvalidFilterValue,
		repoerr.CodeInvalidOrderDirection, repoerr.CodeInvalidFieldName:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *repoerr.Error
	if !errors.As(err, &rerr) {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "internal error"})
		return
	}
	msg := rerr.Message
	if msg == "" {
		msg = string(rerr.Code)
	}
	writeJSON(w, statusOf(rerr.Code), errorBody{Code: string(rerr.Code), Message: msg, Field: rerr.Field})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
