package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/solace-labs/sessiond/pkg/transcript"
)

const defaultSearchLimit = 20

// Searcher is the transcript keyword-search surface.
type Searcher interface {
	Search(ctx context.Context, sessionID, query string, limit int) ([]transcript.Turn, error)
}

type searchResult struct {
	Seq     int64  `json:"seq"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleSearch serves read-only transcript keyword search:
// GET /search?session=<id>&q=<query>&limit=<n>.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if err := transcript.ValidateSessionID(sessionID); err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	turns, err := s.searcher.Search(r.Context(), sessionID, query, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Transcript search failed")
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	results := make([]searchResult, 0, len(turns))
	for _, t := range turns {
		results = append(results, searchResult{Seq: t.Seq, Role: string(t.Role), Content: t.Content})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"results": results}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode search response")
	}
}
