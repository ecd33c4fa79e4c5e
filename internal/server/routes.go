package server

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SetupRoutes returns the application router wrapped with panic recovery and
// proxy header handling.
func (s *Server) SetupRoutes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.HealthHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ws", s.WebSocketHandler)
	r.HandleFunc("/test", s.TestPageHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/online", s.OnlineHandler).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.MetricsHandler).Methods(http.MethodGet)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger.Named("http"))),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(handlers.ProxyHeaders(r))
}
