// Package utils holds the small JSON response helpers shared by the
// HTTP handlers.
package utils

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}

// JSONWrite writes v as a JSON body with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v any) error {
	return writeJSON(w, status, v)
}

// JSONAccepted writes v with 202: the request is committed locally but
// its outcome resolves asynchronously.
func JSONAccepted(w http.ResponseWriter, v any) error {
	return writeJSON(w, http.StatusAccepted, v)
}

// JSONError writes an {"error": message} body with the given status.
func JSONError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, map[string]string{"error": message})
}
