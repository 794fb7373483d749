package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/go-chi/chi/v5/middleware"
)

// writeJSON writes JSON with status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the standard error envelope, tagged with the
// request id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	errors.WriteHTTPError(w, err, middleware.GetReqID(r.Context()))
}

// queryLimit reads ?limit=, falling back to def.
func queryLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.NewValidationError("limit", "limit must be a non-negative integer", s)
	}
	return n, nil
}
