package httpapi

import (
	"encoding/json"
	"net/http"

	"hallod/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jobStatusCode is the HTTP status of a job result. Every well-formed result
// is 200 except a fatal worker failure, which is 503 so the platform routes
// retries to another worker.
func jobStatusCode(resp types.JobResponse) int {
	if resp.Error != nil && resp.Error.Kind == "model_load_failed" {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
