package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/internal/store"
	"github.com/elonfeng/xhistory/pkg/fetch"
	"github.com/elonfeng/xhistory/pkg/ledger"
	"github.com/elonfeng/xhistory/pkg/notify"
	"github.com/elonfeng/xhistory/pkg/paging"
	"github.com/elonfeng/xhistory/pkg/transfer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Deps are the services the HTTP API exposes.
type Deps struct {
	Store          store.Store
	Ledger         *ledger.Ledger
	Resolver       *fetch.Resolver
	Sessions       *paging.Registry
	Transfer       *transfer.Transfer
	Hub            *notify.Hub
	Logger         *log.Logger
	AllowedOrigins []string
	PageSize       int
}

// Server provides the HTTP API used by the popup, sidebar and history page.
type Server struct {
	Deps
	port    int
	handler http.Handler
}

// New creates a new HTTP server.
func New(d Deps, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	d.Logger = d.Logger.WithPrefix("server")
	if d.PageSize <= 0 {
		d.PageSize = paging.DefaultPageSize
	}

	s := &Server{Deps: d, port: port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/navigations", s.handleNavigation)

		r.Get("/urls", s.handleListURLs)
		r.Delete("/urls", s.handleRemoveURLs)
		r.Post("/clear", s.handleClear)

		r.Get("/posts", s.handleGetPost)
		r.Delete("/posts", s.handleDeletePost)
		r.Get("/search", s.handleSearch)
		r.Get("/pages/{page}", s.handlePage)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/next", s.handleSessionNext)
			r.Post("/search", s.handleSessionSearch)
			r.Post("/view", s.handleSessionView)
		})

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)

		r.Get("/events", s.handleEvents)
	})

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	})
	s.handler = c.Handler(r)
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.Hub != nil {
			s.Hub.Close()
		}
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	res, err := s.Ledger.RecordIfNew(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListURLs(w http.ResponseWriter, r *http.Request) {
	tracked, err := s.Ledger.TrackedPosts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	urls, err := s.Ledger.URLs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":         urls,
		"trackedPosts": tracked,
		"count":        len(urls),
	})
}

func (s *Server) handleRemoveURLs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	n, err := s.Ledger.Remove(r.Context(), req.URLs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.Ledger.Clear(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	clearedCache := r.URL.Query().Get("cache") == "true"
	if clearedCache {
		if err := s.Store.ClearPosts(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true, "cache": clearedCache})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing url parameter"))
		return
	}
	writeJSON(w, http.StatusOK, s.Resolver.Resolve(r.Context(), url))
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing url parameter"))
		return
	}
	if err := s.Store.DeletePost(r.Context(), url); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	posts, err := s.Store.SearchPosts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  posts,
		"count": len(posts),
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid page %q", chi.URLParam(r, "page")))
		return
	}
	size := s.PageSize
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}

	urls, err := s.Ledger.URLs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	results := s.Resolver.ResolveMany(r.Context(), paging.Paginate(urls, page, size), 0)

	writeJSON(w, http.StatusOK, map[string]any{
		"data":    results,
		"page":    page,
		"size":    size,
		"total":   len(urls),
		"hasMore": (page+1)*size < len(urls),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("x-history-export-%s.json", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if _, err := s.Transfer.Export(r.Context(), w); err != nil {
		s.Logger.Error("export failed", "error", err)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Transfer.Import(r.Context(), r.Body)
	if errors.Is(err, transfer.ErrInvalidFormat) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event stream disabled"))
		return
	}
	s.Hub.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
