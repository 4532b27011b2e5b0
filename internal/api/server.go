package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer builds the echo instance with every route registered.
func NewServer(h *Handler, gatherer prometheus.Gatherer, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/health" || path == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("http request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/health", h.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	g := e.Group("/api")
	g.GET("/status", h.HandleStatus)
	g.GET("/journal", h.HandleJournal)
	g.GET("/events", h.HandleEvents)
	g.GET("/latest", h.HandleLatest)
	g.GET("/tags", h.HandleTags)
	return e
}

// Serve listens on addr until ctx is done, then shuts the server down.
func Serve(ctx context.Context, e *echo.Echo, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("status api listening", "addr", addr)
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("status api stopped")
	return nil
}
