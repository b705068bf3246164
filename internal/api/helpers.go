package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gvso/nolas/internal/oauth2"
)

// WriteJSON writes v with the given status. Encoding failures are logged,
// the status line is already on the wire by then.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: failed to encode response: %v", err)
	}
}

// errorResponse is the JSON error document shared by the OAuth2 endpoints.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteOAuth2Error translates an authorization failure into its HTTP shape.
// Only this layer knows about status codes; the oauth2 package deals in
// kinds.
func WriteOAuth2Error(w http.ResponseWriter, authErr *oauth2.Error) {
	WriteJSON(w, statusForKind(authErr.Kind), errorResponse{
		Error:            string(authErr.Kind),
		ErrorDescription: authErr.Description,
	})
}

func statusForKind(kind oauth2.Kind) int {
	switch kind {
	case oauth2.KindInvalidClient:
		return http.StatusUnauthorized
	case oauth2.KindInternal, oauth2.KindUpstreamUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
