// Package server exposes a small HTTP API for enqueueing ad-hoc checks and
// digests, plus health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"pricewatcher/internal/logging"
	"pricewatcher/internal/storage"
)

// Server serves the enqueue API.
type Server struct {
	addr     string
	queue    storage.JobQueue
	products storage.ProductStore
	logger   zerolog.Logger
	srv      *http.Server
}

// New constructs the server. metricsHandler may be nil when metrics are
// disabled.
func New(addr string, queue storage.JobQueue, products storage.ProductStore, metricsHandler http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		addr:     addr,
		queue:    queue,
		products: products,
		logger:   logging.Component(logger, "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/check-price", s.handleCheckPrice)
	mux.HandleFunc("POST /api/v1/send-digest", s.handleSendDigest)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

type checkPriceRequest struct {
	ProductID *int64 `json:"product_id"`
	URL       string `json:"url"`
}

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCheckPrice(w http.ResponseWriter, r *http.Request) {
	var req checkPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ProductID == nil && req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "product_id or url required")
		return
	}
	if req.ProductID != nil {
		if _, err := s.products.GetProduct(r.Context(), *req.ProductID); err != nil {
			s.writeError(w, http.StatusNotFound, "unknown product")
			return
		}
	}

	id, err := s.queue.Enqueue(r.Context(), storage.JobKindCheck, storage.CheckPayload{
		ProductID: req.ProductID,
		URL:       req.URL,
	}, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("check enqueue failed")
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	s.writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: id.String()})
}

func (s *Server) handleSendDigest(w http.ResponseWriter, r *http.Request) {
	id, err := s.queue.Enqueue(r.Context(), storage.JobKindDigest, storage.DigestPayload{
		TriggeredBy: "api",
	}, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("digest enqueue failed")
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	s.writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: id.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
