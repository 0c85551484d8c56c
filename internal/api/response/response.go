package response

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

// ErrorBody is the JSON body of every error response. Code is set for
// classified engine errors; Failures lists per-adapter messages of a failed
// deletion.
type ErrorBody struct {
	Error    string            `json:"error"`
	Code     string            `json:"code,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
}

// WriteErrorBody writes a fully populated error body.
func WriteErrorBody(w http.ResponseWriter, status int, body ErrorBody) {
	WriteJSON(w, status, body)
}
