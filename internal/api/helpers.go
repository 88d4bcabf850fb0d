package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// maxLimit caps the limit query parameter of every listing endpoint.
const maxLimit = 500

// WriteJSONResponse encodes v into a buffer first so a failed encode never
// leaves a partial body. It reports whether the response was written.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("API: Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Warn().Err(err).Msg("API: Failed to write JSON response")
		return false
	}
	return true
}

// ParseLimitParam parses the limit query parameter.
// Missing or invalid values give defaultLimit; values above maxLimit are capped.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return min(limit, maxLimit)
}

// folderParam returns the folder query parameter, or fallback when it is empty.
func folderParam(r *http.Request, fallback string) string {
	if folder := r.URL.Query().Get("folder"); folder != "" {
		return folder
	}
	return fallback
}
