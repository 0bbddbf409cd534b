package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/vitwit/stablepay/config"
	"github.com/vitwit/stablepay/logger"
)

// HTTP owns the listening server for the storefront routes.
type HTTP struct {
	Server *http.Server
	logger logger.Logger
}

// New wraps handler with panic recovery and request logging.
func New(cfg config.HTTPConfig, handler http.Handler, log logger.Logger) *HTTP {
	if log == nil {
		log = logger.NoopLogger{}
	}

	handler = LoggingMiddleware(log, handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{log}),
		handlers.PrintRecoveryStack(true),
	)(handler)

	return &HTTP{
		Server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: log,
	}
}

func (a *HTTP) Run() error {
	a.logger.Info("listening", map[string]any{"addr": a.Server.Addr})
	err := a.Server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *HTTP) Shutdown(ctx context.Context) error {
	return a.Server.Shutdown(ctx)
}

// LoggingMiddleware logs one line per request through log instead of the
// writer gorilla hands to the formatter.
func LoggingMiddleware(log logger.Logger, h http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, h, func(_ io.Writer, p handlers.LogFormatterParams) {
		duration := time.Since(p.TimeStamp)
		log.Info("request served", map[string]any{
			"method":        p.Request.Method,
			"url":           p.URL.String(),
			"status_code":   p.StatusCode,
			"response_size": p.Size,
			"duration_ms":   float64(duration.Nanoseconds()) / 1e6,
			"user_agent":    p.Request.UserAgent(),
		})
	})
}

type recoveryLogger struct {
	logger.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.Error("handler panic", map[string]any{"panic": v})
}
