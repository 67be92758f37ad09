package api

import (
	"encoding/json"
	"net/http"
)

// errorBody is the stable error contract: every failure is JSON with an
// error string, optionally echoing an upstream status code.
type errorBody struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
