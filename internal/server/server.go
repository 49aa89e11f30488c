// Package server provides the ZeroBuild HTTP API server.
//
// It exposes the sandbox operations over a small JSON API, persists the
// active sandbox handle and workspace snapshots, and selects the sandbox
// backend (E2B cloud or local Docker) at construction time.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zerobuild/zerobuild/internal/config"
	"github.com/zerobuild/zerobuild/internal/project"
	"github.com/zerobuild/zerobuild/internal/session"
	"github.com/zerobuild/zerobuild/pkg/sandbox"
	"github.com/zerobuild/zerobuild/pkg/sandbox/docker"
	"github.com/zerobuild/zerobuild/pkg/sandbox/e2b"
)

// Server is the ZeroBuild HTTP API server.
type Server struct {
	config   *config.Config
	store    *session.Store
	sandbox  sandbox.Client
	provider config.Provider
	router   chi.Router
}

// New creates a Server with all dependencies: the SQLite store, the sandbox
// backend the configuration resolves to, and the persisted handle from the
// previous run (restored without a liveness check; a stale handle surfaces
// as not-found on first use).
func New(cfg *config.Config) (*Server, error) {
	store, err := session.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	provider := cfg.ResolveProvider()
	var client sandbox.Client
	switch provider {
	case config.ProviderE2B:
		client = e2b.New(e2b.Config{
			APIKey:  cfg.E2BAPIKey,
			APIBase: cfg.E2BAPIBase,
		})
		log.Println("Sandbox provider: E2B cloud")
	case config.ProviderDocker:
		client, err = docker.New(docker.Config{
			Image:       cfg.DockerImage,
			SandboxPort: cfg.SandboxPort,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("initializing Docker backend: %w", err)
		}
		log.Println("Sandbox provider: local Docker")
	default:
		store.Close()
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	s := newServer(cfg, store, client, provider)

	if prev, err := store.LoadSession(); err != nil {
		log.Printf("Warning: could not load persisted sandbox handle: %v", err)
	} else if prev != nil && prev.Provider == string(provider) {
		client.SetID(prev.SandboxID)
		log.Printf("Restored sandbox handle %s", prev.SandboxID)
	}

	return s, nil
}

// newServer wires a Server from explicit dependencies.
func newServer(cfg *config.Config, store *session.Store, client sandbox.Client, provider config.Provider) *Server {
	s := &Server{
		config:   cfg,
		store:    store,
		sandbox:  client,
		provider: provider,
	}
	s.router = s.buildRouter()
	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.ServerAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("ZeroBuild server listening on %s", s.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return s.store.Close()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Route("/sandbox", func(r chi.Router) {
			r.Post("/", s.handleCreateSandbox)
			r.Delete("/", s.handleKillSandbox)
			r.Get("/status", s.handleStatus)
			r.Post("/commands", s.handleRunCommand)
			r.Put("/files", s.handleWriteFile)
			r.Get("/files", s.handleReadFile)
			r.Get("/listing", s.handleListFiles)
			r.Get("/preview", s.handlePreviewURL)
		})
		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/", s.handleCreateSnapshot)
			r.Get("/", s.handleListSnapshots)
			r.Get("/latest", s.handleLatestSnapshot)
			r.Get("/{id}", s.handleGetSnapshot)
		})
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createSandboxRequest struct {
	Reset    bool   `json:"reset"`
	Template string `json:"template,omitempty"`
	// TimeoutMS overrides the configured sandbox lifetime hint.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

type createSandboxResponse struct {
	SandboxID string `json:"sandbox_id"`
	Provider  string `json:"provider"`
}

type killSandboxResponse struct {
	Message string `json:"message"`
}

type statusResponse struct {
	Provider  string `json:"provider"`
	SandboxID string `json:"sandbox_id,omitempty"`
	Active    bool   `json:"active"`
}

type runCommandRequest struct {
	Command string `json:"command"`
	Workdir string `json:"workdir,omitempty"`
	// TimeoutMS overrides the configured per-command bound.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type readFileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type listFilesResponse struct {
	Path    string `json:"path"`
	Listing string `json:"listing"`
}

type previewURLResponse struct {
	URL string `json:"url"`
}

type createSnapshotRequest struct {
	Workdir     string `json:"workdir,omitempty"`
	ProjectType string `json:"project_type,omitempty"`
}

type createSnapshotResponse struct {
	ID        string `json:"id"`
	FileCount int    `json:"file_count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	var req createSandboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	template := req.Template
	if template == "" {
		template = s.defaultTemplate()
	}
	timeout := s.config.SandboxTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	id, err := s.sandbox.CreateSandbox(r.Context(), req.Reset, template, timeout)
	if err != nil {
		writeSandboxError(w, err)
		return
	}

	if err := s.store.SaveSession(id, string(s.provider)); err != nil {
		log.Printf("Warning: could not persist sandbox handle %s: %v", id, err)
	}

	writeJSON(w, http.StatusCreated, createSandboxResponse{
		SandboxID: id,
		Provider:  string(s.provider),
	})
}

func (s *Server) handleKillSandbox(w http.ResponseWriter, r *http.Request) {
	msg, err := s.sandbox.KillSandbox(r.Context())
	if err != nil {
		writeSandboxError(w, err)
		return
	}

	if err := s.store.ClearSession(); err != nil {
		log.Printf("Warning: could not clear persisted sandbox handle: %v", err)
	}

	writeJSON(w, http.StatusOK, killSandboxResponse{Message: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Provider: string(s.provider)}
	if id, ok := s.sandbox.CurrentID(); ok {
		resp.SandboxID = id
		resp.Active = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	var req runCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	workdir := req.Workdir
	if workdir == "" {
		workdir = s.config.DefaultWorkdir
	}
	timeout := s.config.CommandTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	result, err := s.sandbox.RunCommand(r.Context(), req.Command, workdir, timeout)
	if err != nil {
		writeSandboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	if err := s.sandbox.WriteFile(r.Context(), req.Path, req.Content); err != nil {
		writeSandboxError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	content, err := s.sandbox.ReadFile(r.Context(), path)
	if err != nil {
		writeSandboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readFileResponse{Path: path, Content: content})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = s.config.DefaultWorkdir
	}

	listing, err := s.sandbox.ListFiles(r.Context(), path)
	if err != nil {
		writeSandboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listFilesResponse{Path: path, Listing: listing})
}

func (s *Server) handlePreviewURL(w http.ResponseWriter, r *http.Request) {
	port := s.config.SandboxPort
	if v := r.URL.Query().Get("port"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			writeError(w, http.StatusBadRequest, "invalid port")
			return
		}
		port = p
	}

	url, err := s.sandbox.PreviewURL(r.Context(), port)
	if err != nil {
		writeSandboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previewURLResponse{URL: url})
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	workdir := req.Workdir
	if workdir == "" {
		workdir = s.config.DefaultWorkdir
	}

	files, err := s.sandbox.CollectSnapshotFiles(r.Context(), workdir)
	if err != nil {
		writeSandboxError(w, err)
		return
	}

	projectType := req.ProjectType
	if projectType == "" {
		projectType = project.Detect(files)
	}

	id, err := s.store.SaveSnapshot(files, projectType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save snapshot")
		return
	}
	writeJSON(w, http.StatusCreated, createSnapshotResponse{ID: id, FileCount: len(files)})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListSnapshots()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []*session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LatestSnapshot()
	if errors.Is(err, session.ErrNoSnapshot) {
		writeError(w, http.StatusNotFound, "no snapshot stored")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.store.GetSnapshot(id)
	if errors.Is(err, session.ErrNoSnapshot) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// defaultTemplate is the provider-appropriate fallback when the request
// names no template: the E2B template ID or the Docker image.
func (s *Server) defaultTemplate() string {
	if s.provider == config.ProviderDocker {
		return s.config.DockerImage
	}
	return s.config.Template
}

// --- Helpers ---

// writeSandboxError maps the sandbox error taxonomy onto HTTP statuses:
// no active sandbox is a conflict, a missing resource is 404, a timeout is
// 504, and an upstream provider failure is 502.
func writeSandboxError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrNoActiveSandbox):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sandbox.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case sandbox.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		var apiErr *sandbox.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
