//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the run-submission surface over HTTP: run start and
// cancel as JSON endpoints, the run event stream as server-sent events, plus
// gateway roster proxies, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"trpc.group/trpc-go/clawdini/gateway"
	"trpc.group/trpc-go/clawdini/graph"
	"trpc.group/trpc-go/clawdini/log"
	"trpc.group/trpc-go/clawdini/registry"
	"trpc.group/trpc-go/clawdini/runner"
)

const defaultAddr = "127.0.0.1:8799"

// Directory is the slice of the gateway client the roster endpoints use.
type Directory interface {
	AgentsList(ctx context.Context) (*gateway.AgentsInfo, error)
	ModelsList(ctx context.Context) (*gateway.ModelsInfo, error)
}

// Option configures the server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithCORSOrigins restricts cross-origin callers. Default allows all origins,
// which suits the local editor deployment.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// Server is the orchestrator's HTTP front end.
type Server struct {
	addr    string
	origins []string
	reg     *registry.Registry
	dir     Directory
	httpSrv *http.Server
}

// New builds a server over a run registry and a gateway directory.
func New(reg *registry.Registry, dir Directory, opts ...Option) *Server {
	s := &Server{addr: defaultAddr, reg: reg, dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, CORS included.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/runs", s.handleStartRun).Methods(http.MethodPost)
	r.HandleFunc("/api/runs/{id}/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/api/agents", s.handleAgents).Methods(http.MethodGet)
	r.HandleFunc("/api/models", s.handleModels).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	log.Infof("http: listening on %s", s.addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type startRunRequest struct {
	Graph graph.Graph `json:"graph"`
	Input string      `json:"input,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}
	runID, err := s.reg.Start(&req.Graph, req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"runId": runID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if err := s.reg.Cancel(r.Context(), runID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleEvents streams a run's events as SSE. Buffered events replay first, so
// subscribing after runStarted loses nothing recent. The stream ends at the
// run's terminal event, at eviction or when the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	events, off, err := s.reg.Subscribe(runID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	defer off()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, map[string]string{"type": "connected", "runId": runID})
	flusher.Flush()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
			if isTerminal(ev, runID) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	info, err := s.dir.AgentsList(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	info, err := s.dir.ModelsList(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isTerminal matches the run's own terminal event; child runs spawned by
// foreach share the stream and must not end it.
func isTerminal(ev runner.Event, runID string) bool {
	if ev.RunID != runID {
		return false
	}
	switch ev.Type {
	case runner.EventRunCompleted, runner.EventRunError, runner.EventRunCancelled:
		return true
	}
	return false
}

func writeSSE(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("http: marshal SSE event: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("http: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
