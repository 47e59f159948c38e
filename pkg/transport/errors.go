package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tkrause/leitung/pkg/api"
)

// HTTPStatusFromError maps a transport error to the corresponding HTTP
// status code. Errors that are not TransportErrors map to 500.
func HTTPStatusFromError(err error) int {
	switch api.ErrorKindOf(err) {
	case api.ErrorKindDecode:
		return http.StatusBadRequest
	case api.ErrorKindCancelled, api.ErrorKindTransportClosed:
		return http.StatusServiceUnavailable
	case api.ErrorKindNotFound:
		return http.StatusNotFound
	case api.ErrorKindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response using the
// ErrorResponse wrapper format from pkg/api. It sets the Content-Type
// header and writes the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, te *api.TransportError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: te})
}

// WriteTransportError writes err as a JSON error response, deriving the
// HTTP status code from the error kind. Errors that are not
// TransportErrors are coerced to internal errors.
func WriteTransportError(w http.ResponseWriter, err error) {
	var te *api.TransportError
	if !errors.As(err, &te) {
		te = api.NewInternalError(err.Error())
	}
	WriteErrorResponse(w, te, HTTPStatusFromError(err))
}
