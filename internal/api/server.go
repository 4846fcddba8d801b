// Package api exposes the node's HTTP surface: block submission, a
// status summary and the prometheus metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"repnode/internal/ledger"
	"repnode/internal/logger"
)

const (
	// maxBlockBody bounds the POST /block request body.
	maxBlockBody = 1 << 20
)

// BlockSubmitter accepts a validated block into the local ledger.
type BlockSubmitter interface {
	SubmitBlock(block *ledger.Block) error
}

// BlockFlooder gossips a block to network peers.
type BlockFlooder interface {
	FloodBlock(block *ledger.Block)
}

// StatusProvider exposes vote-core state for monitoring.
type StatusProvider interface {
	HistorySize() int
	PoolCount() int
	PeerCount() int
	ReservationCount() int
	VotingReps() uint64
}

// Server is the HTTP API server.
type Server struct {
	addr      string               // addr is the HTTP listen address
	submitter BlockSubmitter       // submitter accepts blocks into the ledger
	flooder   BlockFlooder         // flooder forwards blocks to peers
	status    StatusProvider       // status provides vote-core state
	registry  *prometheus.Registry // registry backs the metrics endpoint
	server    *http.Server         // server is the underlying HTTP server
}

// New creates an HTTP API server.
func New(addr string, submitter BlockSubmitter, flooder BlockFlooder, status StatusProvider, registry *prometheus.Registry) *Server {
	return &Server{
		addr:      addr,
		submitter: submitter,
		flooder:   flooder,
		status:    status,
		registry:  registry,
	}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /block", s.handleSubmitBlock)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleSubmitBlock handles POST /block requests. The body is a block
// in wire form; the block is validated, stored and gossiped.
func (s *Server) handleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBlockBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	block, err := ledger.DeserializeBlock(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid block: %v", err))
		return
	}

	if err := block.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad block signature: %v", err))
		return
	}

	if err := s.submitter.SubmitBlock(block); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("store block: %v", err))
		return
	}

	if s.flooder != nil {
		s.flooder.FloodBlock(block)
	}

	hash := block.Hash()
	logger.Debug("block submitted", "hash", hash)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"hash": hash.String(),
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"historySize":  s.status.HistorySize(),
		"pools":        s.status.PoolCount(),
		"peers":        s.status.PeerCount(),
		"reservations": s.status.ReservationCount(),
		"votingReps":   s.status.VotingReps(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
