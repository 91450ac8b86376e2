package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// maxBodyBytes caps request bodies. Payloads travel through SQS, which
// rejects anything over 256 KB anyway.
const maxBodyBytes = 1 << 20

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) *core.OJSError {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return core.NewInvalidRequestError("Failed to read request body.", nil)
	}
	if len(body) > maxBodyBytes {
		return core.NewInvalidRequestError("Request body too large.", map[string]any{"max_bytes": maxBodyBytes})
	}
	if len(body) == 0 {
		return core.NewInvalidRequestError("Request body is required.", nil)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return core.NewInvalidRequestError("Invalid JSON in request body.", map[string]any{"error": err.Error()})
	}
	return nil
}

// queryLimit parses ?limit=, clamped to maxListLimit. Malformed values fall
// back to the default.
func queryLimit(r *http.Request) int {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxListLimit)
		}
	}
	return limit
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
