package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vincentbai/browsetrace-tracker/internal/flusher"
	"github.com/vincentbai/browsetrace-tracker/internal/logging"
	"github.com/vincentbai/browsetrace-tracker/internal/models"
	"github.com/vincentbai/browsetrace-tracker/internal/timing"
	"github.com/vincentbai/browsetrace-tracker/internal/tracker"
)

const maxBodyBytes = 1 << 20

// Agent is the tracker surface the bridge drives.
type Agent interface {
	Track(record models.EventRecord)
	Click(c tracker.Click)
	Navigation(event string)
	ScriptError(e tracker.ScriptError)
	ResourceError(e tracker.ResourceError)
	PromiseRejection(e tracker.PromiseRejection)
	LoadComplete(nav timing.NavigationTiming) bool
	Teardown() int
	State() flusher.State
	Wait(ctx context.Context) error
}

type Server struct {
	agent   Agent
	address string
	server  *http.Server
	logger  *slog.Logger
}

func NewServer(agent Agent, address string, logger *slog.Logger) *Server {
	return &Server{
		agent:   agent,
		address: address,
		logger:  logging.Component(logger, "server"),
	}
}

type navigationSignal struct {
	Event string `json:"event"`
}

type teardownResponse struct {
	Delivered int    `json:"delivered"`
	State     string `json:"state"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// decodePost enforces POST and decodes the JSON body into v, writing the
// error response itself. It reports whether the handler should continue.
func decodePost(w http.ResponseWriter, request *http.Request, v any) bool {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return false
	}
	request.Body = http.MaxBytesReader(w, request.Body, maxBodyBytes)
	if err := json.NewDecoder(request.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	var batch models.Batch
	if !decodePost(w, request, &batch) {
		return
	}
	for _, record := range batch.Events {
		if record.Event == "" || record.TargetKey == "" {
			http.Error(w, "event and targetKey are required", http.StatusBadRequest)
			return
		}
	}
	for _, record := range batch.Events {
		s.agent.Track(record)
	}
	w.WriteHeader(http.StatusNoContent) // success, no body
}

func (s *Server) handleClick(w http.ResponseWriter, request *http.Request) {
	var click tracker.Click
	if !decodePost(w, request, &click) {
		return
	}
	s.agent.Click(click)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNavigation(w http.ResponseWriter, request *http.Request) {
	var signal navigationSignal
	if !decodePost(w, request, &signal) {
		return
	}
	s.agent.Navigation(signal.Event)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScriptError(w http.ResponseWriter, request *http.Request) {
	var scriptError tracker.ScriptError
	if !decodePost(w, request, &scriptError) {
		return
	}
	s.agent.ScriptError(scriptError)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResourceError(w http.ResponseWriter, request *http.Request) {
	var resourceError tracker.ResourceError
	if !decodePost(w, request, &resourceError) {
		return
	}
	s.agent.ResourceError(resourceError)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRejection(w http.ResponseWriter, request *http.Request) {
	var rejection tracker.PromiseRejection
	if !decodePost(w, request, &rejection) {
		return
	}
	s.agent.PromiseRejection(rejection)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoad(w http.ResponseWriter, request *http.Request) {
	var nav timing.NavigationTiming
	if !decodePost(w, request, &nav) {
		return
	}
	s.agent.LoadComplete(nav)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTeardown(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	delivered := s.agent.Teardown()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(teardownResponse{
		Delivered: delivered,
		State:     s.agent.State().String(),
	})
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/signals/click", s.handleClick)
	mux.HandleFunc("/signals/navigation", s.handleNavigation)
	mux.HandleFunc("/signals/error", s.handleScriptError)
	mux.HandleFunc("/signals/resource-error", s.handleResourceError)
	mux.HandleFunc("/signals/rejection", s.handleRejection)
	mux.HandleFunc("/signals/load", s.handleLoad)
	mux.HandleFunc("/teardown", s.handleTeardown)
	return mux
}

// Run serves until ctx is cancelled, then shuts the listener down, flushes
// the ledger as the final teardown and waits for in-flight deliveries.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("BrowserTrace tracker listening", slog.String("address", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	s.logger.Info("Shutting down server...")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		s.logger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	if err := s.agent.Wait(shutdownContext); err != nil {
		s.logger.Warn("pending work not finished before teardown", slog.Any("error", err))
	}
	delivered := s.agent.Teardown()
	if err := s.agent.Wait(shutdownContext); err != nil {
		s.logger.Warn("in-flight deliveries abandoned", slog.Any("error", err))
	}

	s.logger.Info("Server exited", slog.Int("flushed", delivered))
	return nil
}
