package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/quelle/pkg/api"
)

// HTTPStatusFromError maps an error to an HTTP status code. Classified
// pipeline errors map by kind; wire errors map by type.
func HTTPStatusFromError(err error) int {
	return statusForType(api.ToAPIError(err).Type)
}

func statusForType(t api.ErrorType) int {
	switch t {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeConflict:
		return http.StatusConflict
	case api.ErrorTypeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case api.ErrorTypeUnprocessable:
		return http.StatusUnprocessableEntity
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeUpstream:
		return http.StatusBadGateway
	case api.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes apiErr as a JSON error body with the given
// status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes apiErr with the status derived from its type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, statusForType(apiErr.Type))
}

// WriteError converts err to its wire form and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteAPIError(w, api.ToAPIError(err))
}
