// Package httpserver is the read surface: an HTML view of recently popular
// links in context, plus JSON query and search endpoints.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/seabird/chitter/internal/config"
	"github.com/seabird/chitter/internal/domain"
)

const recentWindow = 30 * 24 * time.Hour

// shortLinkExpr matches platform short links in post text for linkification.
var shortLinkExpr = regexp.MustCompile(`https://t\.co/[A-Za-z0-9]+`)

// Server serves the digest read surface.
type Server struct {
	links      domain.LinkStore
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer wires routes and returns a server listening on the configured
// port once Start is called.
func NewServer(cfg *config.Config, links domain.LinkStore, logger *slog.Logger) *Server {
	s := &Server{
		links:  links,
		logger: logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/links", s.handleLinks).Methods(http.MethodGet)
	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      withLogging(logger, r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIndex renders links from the last 30 days shared by at least two
// people, newest first, with their grouped contexts.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().Add(-recentWindow)
	aggs, err := s.links.Query(r.Context(), cutoff, 2, true)
	if err != nil {
		s.logger.Error("query recent links failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]pageItem, 0, len(aggs))
	// Query returns oldest first; the page wants reverse chron.
	for i := len(aggs) - 1; i >= 0; i-- {
		agg := aggs[i]
		reshares, originals := domain.GroupContexts(agg.Contexts)
		items = append(items, pageItem{
			URL:       agg.URL,
			Users:     agg.Users,
			Reshares:  reshares,
			Originals: originals,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, items); err != nil {
		s.logger.Error("render index failed", "error", err)
	}
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if v := r.URL.Query().Get("since"); v != "" {
		unix, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "since must be a unix timestamp")
			return
		}
		since = time.Unix(unix, 0)
	}

	minCount := 1
	if v := r.URL.Query().Get("min_count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "min_count must be a positive integer")
			return
		}
		minCount = parsed
	}

	aggs, err := s.links.Query(r.Context(), since, minCount, true)
	if err != nil {
		s.logger.Error("query links failed", "since", since, "min_count", minCount, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to query links")
		return
	}

	writeJSON(w, http.StatusOK, toAggregateResponse(aggs))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "q parameter is required")
		return
	}

	aggs, err := s.links.Search(r.Context(), q)
	if err != nil {
		s.logger.Error("search failed", "q", q, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "search failed")
		return
	}

	writeJSON(w, http.StatusOK, toAggregateResponse(aggs))
}

type aggregateResponse struct {
	URL      string            `json:"url"`
	Users    []string          `json:"users"`
	Count    int               `json:"count"`
	LastSeen time.Time         `json:"last_seen"`
	Contexts []contextResponse `json:"contexts,omitempty"`
}

type contextResponse struct {
	PostID int64              `json:"id"`
	User   string             `json:"user"`
	Text   string             `json:"text"`
	Sub    []domain.SubStatus `json:"sub"`
}

func toAggregateResponse(aggs []domain.Aggregate) []aggregateResponse {
	out := make([]aggregateResponse, len(aggs))
	for i, agg := range aggs {
		resp := aggregateResponse{
			URL:      agg.URL,
			Users:    agg.Users,
			Count:    agg.Count,
			LastSeen: agg.LastSeen,
		}
		for _, rec := range agg.Contexts {
			resp.Contexts = append(resp.Contexts, contextResponse{
				PostID: rec.PostID,
				User:   rec.User,
				Text:   rec.Text,
				Sub:    rec.Sub,
			})
		}
		out[i] = resp
	}
	return out
}
