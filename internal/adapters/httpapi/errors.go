package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error struct {
		Code      string                            `json:"code"`
		Message   string                            `json:"message"`
		Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
		RequestID nullable.Nullable[string]         `json:"requestId,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestID = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
