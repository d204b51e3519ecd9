package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/config"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/dictionary"
	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/metrics"
)

// ServiceVersion is reported by the admin API
const ServiceVersion = "1.0.0"

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	store    *dictionary.Store
	udp      *Listener
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new admin HTTP API server. m is required: it backs /metrics.
func NewHTTPServer(appConfig *config.Config, store *dictionary.Store, udp *Listener, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		store:     store,
		udp:       udp,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         appConfig.Admin.Addr(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))

	// Dictionary endpoints
	mux.HandleFunc("GET /dictionary", h.withMetrics("/dictionary", h.handleDictionary))
	mux.HandleFunc("GET /dictionary/words/{word}", h.withMetrics("/dictionary/words/{word}", h.handleWord))
	mux.HandleFunc("GET /dictionary/categories/{category}", h.withMetrics("/dictionary/categories/{category}", h.handleCategory))
	mux.HandleFunc("POST /dictionary/reload", h.withMetrics("/dictionary/reload", h.handleReload))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler, used by tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the admin address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound admin address once started
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to write HTTP response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	udpStats := h.udp.GetStatistics()

	status := "healthy"
	code := http.StatusOK
	if h.udp.State() != StateRunning {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	health := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "dictionary-server",
			"version": ServiceVersion,
		},
		"components": map[string]any{
			"udp_listener": map[string]any{
				"status":           udpStats.State,
				"packets_received": udpStats.PacketsReceived,
				"queue_size":       udpStats.QueueSize,
			},
			"dictionary": map[string]any{
				"status":  "loaded",
				"entries": h.store.Count(),
			},
		},
	}

	h.writeJSON(w, code, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	info := h.store.Info()

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.udp.GetStatistics(),
		"dictionary": map[string]any{
			"entries":   info.Count,
			"loaded_at": info.LoadedAt,
		},
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"server": map[string]any{
			"udp_port":           h.config.Server.UDPPort,
			"bind_address":       h.config.Server.BindAddress,
			"buffer_size":        h.config.Server.BufferSize,
			"receive_timeout_ms": h.config.Server.ReceiveTimeoutMs,
			"max_receive_errors": h.config.Server.MaxReceiveErrors,
			"rate_limit":         h.config.Server.RateLimit,
			"rate_burst":         h.config.Server.RateBurst,
		},
		"queue": map[string]any{
			"capacity": h.config.Queue.Capacity,
			"overflow": h.config.Queue.Overflow,
		},
		"workers": map[string]any{
			"count":              h.config.Workers.Count,
			"dequeue_timeout_ms": h.config.Workers.DequeueTimeoutMs,
			"latency_warning_ms": h.config.Workers.LatencyWarningMs,
			"join_timeout_ms":    h.config.Workers.JoinTimeoutMs,
		},
		"dictionary": map[string]any{
			"path":        h.config.Dictionary.Path,
			"watch":       h.config.Dictionary.Watch,
			"debounce_ms": h.config.Dictionary.DebounceMs,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	})
}

// handleDictionary implements the /dictionary endpoint
func (h *HTTPServer) handleDictionary(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Info())
}

// handleWord implements the /dictionary/words/{word} endpoint
func (h *HTTPServer) handleWord(w http.ResponseWriter, r *http.Request) {
	word := r.PathValue("word")

	entry, ok := h.store.Entry(word)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "word not found",
			"word":  word,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"word":       word,
		"definition": entry.Definition,
		"synonyms":   entry.Synonyms,
		"category":   entry.Category,
	})
}

// handleCategory implements the /dictionary/categories/{category} endpoint
func (h *HTTPServer) handleCategory(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	words := h.store.WordsByCategory(category)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"count":    len(words),
		"words":    words,
	})
}

// handleReload implements the POST /dictionary/reload endpoint
func (h *HTTPServer) handleReload(w http.ResponseWriter, r *http.Request) {
	changed, err := h.store.ReloadWithError()
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"reloaded": false,
			"changed":  false,
			"error":    err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"changed":  changed,
		"entries":  h.store.Count(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"service": "Dictionary Lookup Service",
		"version": ServiceVersion,
		"endpoints": map[string]any{
			"GET /":                                 "API documentation",
			"GET /health":                           "Service health check",
			"GET /stats":                            "Listener and dictionary statistics",
			"GET /config":                           "Effective service configuration",
			"GET /dictionary":                       "Dictionary source and metadata",
			"GET /dictionary/words/{word}":          "Full entry for a word",
			"GET /dictionary/categories/{category}": "Words in a category",
			"POST /dictionary/reload":               "Reload the dictionary file",
			"GET /metrics":                          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
