package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/logger"
	"github.com/petrijr/orderflow/pkg/api"
)

// Engine is the part of the instance manager the gateway calls.
type Engine interface {
	CreateInstance(ctx context.Context, workflow string, input any) (string, error)
	api.StatusReader
}

// Server is the HTTP trigger gateway. It schedules orders and reports
// their status; it never waits for a workflow to finish.
type Server struct {
	http.Server
	Port int

	engine  Engine
	metrics *api.BasicMetrics
	logger  *zap.Logger
}

// NewServer builds the gateway. metrics may be nil, in which case
// /metrics is not served.
func NewServer(httpPort int, eng Engine, metrics *api.BasicMetrics) *Server {
	s := &Server{
		Server: http.Server{
			Addr:              fmt.Sprintf(":%d", httpPort),
			ReadHeaderTimeout: 10 * time.Second,
		},
		Port:    httpPort,
		engine:  eng,
		metrics: metrics,
		logger:  logger.Named("gateway"),
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/orders", s.HandleSubmitOrder).Methods(http.MethodPost)
	router.HandleFunc("/orders", s.HandleSubmitOrderQuery).Methods(http.MethodGet)
	router.HandleFunc("/orders/{instanceId}/status", s.HandleOrderStatus).Methods(http.MethodGet)
	router.HandleFunc("/orders/{instanceId}/history", s.HandleOrderHistory).Methods(http.MethodGet)
	if s.metrics != nil {
		router.HandleFunc("/metrics", s.HandleMetrics).Methods(http.MethodGet)
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.Use(s.loggingMiddleware)
	return router
}

func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	s.logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		s.logger.Error("error shutting down http server", zap.Error(err))
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func respondWithText(w http.ResponseWriter, code int, message string) {
	http.Error(w, message, code)
}
