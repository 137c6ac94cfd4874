package cmd

import (
	"log/slog"
	"net/http"
)

type httpServer struct {
	addr    string
	handler http.Handler
}

func (s *httpServer) serve(logger *slog.Logger) {
	if err := http.ListenAndServe(s.addr, s.handler); err != nil && err != http.ErrServerClosed {
		logger.Warn("cmd: introspection http server stopped", slog.Any("error", err))
	}
}
