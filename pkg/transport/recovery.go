package transport

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tkrause/leitung/pkg/api"
)

// Recovery returns middleware that catches panics in the handler, logs
// them, and converts them to internal error responses when no bytes have
// been written yet. The server continues to accept new requests after a
// panic is recovered.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusCaptureWriter{ResponseWriter: w}
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("recovered handler panic",
						slog.Any("panic", rec),
						slog.String("path", r.URL.Path),
						slog.String("request_id", RequestIDFromContext(r.Context())))
					if !sw.wrote {
						WriteTransportError(sw, api.NewInternalError(fmt.Sprintf("internal server error: %v", rec)))
					}
				}
			}()
			next.ServeHTTP(sw, r)
		})
	}
}
