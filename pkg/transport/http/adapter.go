package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tkrause/leitung/pkg/api"
	"github.com/tkrause/leitung/pkg/debug"
	"github.com/tkrause/leitung/pkg/observability"
	"github.com/tkrause/leitung/pkg/transport"
)

// Adapter serves the transport endpoint over HTTP. It classifies
// requests — GET opens an SSE stream, POST submits one message, anything
// else is rejected — and bridges them onto the transport core.
type Adapter struct {
	transport *transport.Transport
	tasks     *transport.TaskSet
	config    Config
	logger    *slog.Logger
	mux       *http.ServeMux
	handler   http.Handler
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	EndpointPath string
	MaxBodySize  int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		EndpointPath: "/mcp",
		MaxBodySize:  4 << 20, // 4 MB
	}
}

// NewAdapter creates an HTTP adapter bridging requests onto t. Every
// serviced connection is tracked in tasks for graceful drain. Middleware
// is applied to the whole endpoint surface in the given order.
func NewAdapter(t *transport.Transport, tasks *transport.TaskSet, cfg Config, logger *slog.Logger, middlewares ...transport.Middleware) *Adapter {
	def := DefaultConfig()
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = def.EndpointPath
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		transport: t,
		tasks:     tasks,
		config:    cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	a.mux.HandleFunc(cfg.EndpointPath, a.handleEndpoint)
	a.mux.HandleFunc("/", a.handleNotFound)

	a.handler = http.Handler(a.mux)
	if len(middlewares) > 0 {
		a.handler = transport.Chain(middlewares...)(a.mux)
	}
	return a
}

// Handler returns the http.Handler for this adapter. Use this to
// integrate with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	return a.handler
}

// handleEndpoint classifies requests on the recognized path by method.
func (a *Adapter) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleStream(w, r)
	case http.MethodPost:
		a.handleSubmit(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		transport.WriteErrorResponse(w,
			api.NewMethodNotAllowedError(r.Method),
			http.StatusMethodNotAllowed,
		)
	}
}

// handleNotFound rejects requests to any path other than the endpoint.
// Rejected requests are closed immediately and never tracked as tasks.
func (a *Adapter) handleNotFound(w http.ResponseWriter, r *http.Request) {
	transport.WriteErrorResponse(w,
		api.NewNotFoundError(r.URL.Path),
		http.StatusNotFound,
	)
}

// handleSubmit reads exactly one message body, hands it to the transport
// core, and replies with 202 Accepted without waiting for processing.
// Protocol-level responses arrive later, if at all, via some subscriber's
// SSE stream.
func (a *Adapter) handleSubmit(w http.ResponseWriter, r *http.Request) {
	taskID := api.NewTaskID()
	a.tasks.Add(taskID)
	defer a.tasks.Remove(taskID)

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewDecodeError(fmt.Errorf("Content-Type must be application/json, got %q", ct)),
			http.StatusUnsupportedMediaType,
		)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewDecodeError(fmt.Errorf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteErrorResponse(w,
			api.NewDecodeError(err),
			http.StatusBadRequest,
		)
		return
	}

	debug.Log("transport", "submission received", "bytes", len(body))
	debug.Raw("transport", string(body))

	if err := a.transport.Submit(r.Context(), body); err != nil {
		transport.WriteTransportError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleStream opens a subscription against the transport core and pumps
// outbound messages onto the wire until the connection ends. The peer
// disconnecting, the server stopping, and a write failure all terminate
// the stream as normal closure.
func (a *Adapter) handleStream(w http.ResponseWriter, r *http.Request) {
	taskID := api.NewTaskID()
	a.tasks.Add(taskID)
	defer a.tasks.Remove(taskID)

	subID := api.NewSubscriberID()
	sub, err := a.transport.Subscribe(subID)
	if err != nil {
		transport.WriteTransportError(w, err)
		return
	}
	defer sub.Close()

	stream := newEventStreamWriter(w)
	if err := stream.WriteEndpoint(a.submissionURI(subID)); err != nil {
		a.logger.Debug("stream ended before endpoint event",
			slog.String("subscriber_id", subID),
			slog.String("error", err.Error()))
		return
	}

	observability.StreamsActive.Inc()
	defer observability.StreamsActive.Dec()

	a.logger.Info("stream opened",
		slog.String("subscriber_id", subID),
		slog.String("remote", r.RemoteAddr),
		slog.String("request_id", transport.RequestIDFromContext(r.Context())))
	defer a.logger.Info("stream closed", slog.String("subscriber_id", subID))

	codec := a.transport.Codec()
	for {
		msg, err := sub.Next(r.Context())
		if err != nil {
			return
		}
		data, err := codec.Encode(msg)
		if err != nil {
			a.logger.Error("encoding outbound message",
				slog.String("subscriber_id", subID),
				slog.String("error", err.Error()))
			continue
		}
		debug.Trace("streaming", "writing message event",
			"subscriber_id", subID, "bytes", len(data))
		if err := stream.WriteMessage(data); err != nil {
			a.logger.Debug("stream write failed",
				slog.String("subscriber_id", subID),
				slog.String("error", err.Error()))
			return
		}
	}
}

// submissionURI builds the URI carried by the endpoint framing event. The
// sessionId query parameter names the subscriber for log correlation; the
// server keeps no session state keyed on it.
func (a *Adapter) submissionURI(subID string) string {
	return a.config.EndpointPath + "?sessionId=" + url.QueryEscape(subID)
}
