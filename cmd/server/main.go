// Command server runs the leitung MCP streaming transport.
//
// Configuration is layered: built-in defaults, a YAML config file
// (-config flag, LEITUNG_CONFIG, ./config.yaml, /etc/leitung/config.yaml),
// and LEITUNG_* environment variable overrides.
//
// The binary wires a demo processing loop behind the transport: it
// answers initialize and ping requests and logs everything else. A real
// deployment replaces that loop with its own consumer of
// Transport.Receive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/tkrause/leitung/pkg/api"
	"github.com/tkrause/leitung/pkg/config"
	"github.com/tkrause/leitung/pkg/debug"
	"github.com/tkrause/leitung/pkg/transport"
	transporthttp "github.com/tkrause/leitung/pkg/transport/http"
)

const (
	serverName    = "leitung"
	serverVersion = "1.0.0"

	// Protocol version offered when the client did not negotiate one.
	defaultProtocolVersion = "2024-11-05"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	debug.Init(cfg.Logging.Debug, cfg.Logging.Level)
	logger := slog.Default()

	t := transport.New(transport.Config{
		InboundCapacity:  cfg.Queue.InboundCapacity,
		OutboundCapacity: cfg.Queue.OutboundCapacity,
		BroadcastWait:    cfg.Queue.BroadcastWait,
		Logger:           logger,
	})

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithEndpointPath(cfg.Server.EndpointPath),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
		transporthttp.WithLogger(logger),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithMetricsPath(cfg.Observability.Metrics.Path))
	}
	srv := transporthttp.NewServer(t, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go processLoop(ctx, t, logger)

	return srv.Run(ctx)
}

// processLoop is the collaborator behind the transport: it drains the
// inbound queue, computes results, and broadcasts responses back to all
// subscribers.
func processLoop(ctx context.Context, t *transport.Transport, logger *slog.Logger) {
	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			logger.Info("processing loop stopped", "reason", err.Error())
			return
		}

		req, ok := msg.(*jsonrpc.Request)
		if !ok {
			logger.Debug("ignoring inbound response message")
			continue
		}
		if !req.IsCall() {
			logger.Debug("notification received", "method", req.Method)
			continue
		}

		result, handled := handleRequest(t, req)
		if !handled {
			logger.Warn("unhandled method", "method", req.Method)
			continue
		}
		t.Broadcast(&jsonrpc.Response{ID: req.ID, Result: result})
	}
}

// handleRequest computes the result for the few methods the demo loop
// understands. The second result is false for everything else.
func handleRequest(t *transport.Transport, req *jsonrpc.Request) (json.RawMessage, bool) {
	switch req.Method {
	case api.InitializeMethod:
		return initializeResult(t), true
	case "ping":
		return json.RawMessage("{}"), true
	default:
		return nil, false
	}
}

// initializeResult builds the initialize response from the most recently
// captured client parameters.
func initializeResult(t *transport.Transport) json.RawMessage {
	version := defaultProtocolVersion
	if raw, ok := t.InitializeParams(); ok {
		if params, err := api.ParseInitializeParams(raw); err == nil && params.ProtocolVersion != "" {
			version = params.ProtocolVersion
		}
	}

	result, err := json.Marshal(map[string]any{
		"protocolVersion": version,
		"capabilities":    map[string]any{},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
	})
	if err != nil {
		return json.RawMessage("{}")
	}
	return result
}
