// Package api serves the read-only consumer HTTP interface over the
// query layer. There is no write path.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/chesno-labs/bankflow/internal/model"
	"github.com/chesno-labs/bankflow/internal/query"
)

// Server wraps the HTTP listener and its router.
type Server struct {
	http *http.Server
	log  *zap.Logger
}

// Handler routes consumer requests to the query layer.
type Handler struct {
	queries *query.Queries
}

// NewRouter builds the read-only API router.
func NewRouter(queries *query.Queries) http.Handler {
	h := &Handler{queries: queries}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get("/health", h.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Get("/cases", h.handleListCases)
		api.Get("/cases/{number}", h.handleGetCase)
		api.Get("/creditors", h.handleListCreditors)
		api.Get("/stats/latest", h.handleLatestStats)
	})
	return r
}

// New creates a Server listening on the given address.
func New(addr string, queries *query.Queries) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(queries),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: zap.L().With(zap.String("component", "api")),
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return s.http.Shutdown(shutdownCtx)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := query.CaseFilter{
		EDRPOU:           q.Get("edrpou"),
		ExtractionStatus: q.Get("extraction_status"),
		CourtID:          parseInt64(q.Get("court_id")),
		Year:             int(parseInt64(q.Get("year"))),
		Limit:            int(parseInt64(q.Get("limit"))),
		Offset:           int(parseInt64(q.Get("offset"))),
	}

	cases, total, err := h.queries.ListCases(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"cases": cases,
	})
}

func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid case number"})
		return
	}

	detail, err := h.queries.GetCase(r.Context(), number)
	if err != nil {
		writeError(w, err)
		return
	}
	if detail == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleListCreditors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	creditors, err := h.queries.ListCreditors(r.Context(),
		q.Get("search"),
		int(parseInt64(q.Get("limit"))),
		int(parseInt64(q.Get("offset"))),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	if creditors == nil {
		creditors = []model.CanonicalCreditor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"creditors": creditors})
}

func (h *Handler) handleLatestStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.queries.LatestSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
