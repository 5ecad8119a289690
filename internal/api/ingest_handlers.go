package api

import (
	"encoding/json"
	"net/http"
)

type ingestRequest struct {
	DocumentID    string `json:"document_id"`
	Category      string `json:"category"`
	ChunksWritten int    `json:"chunks_written"`
}

// handleDocumentIngest lets an external indexer (or any process that has
// just written a document into whatever store backs retrieval) notify
// the automation pipeline, producing an indexing event for any matching
// automations. It does not perform the indexing itself — parsing,
// chunking, and embedding a document are retrieval-layer concerns this
// module treats as an external collaborator's job.
func (s *Server) handleDocumentIngest(w http.ResponseWriter, r *http.Request) {
	if s.indexingSource == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document ingestion not configured")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" {
		s.errorResponse(w, http.StatusBadRequest, "document_id is required")
		return
	}

	s.indexingSource.Emit(req.DocumentID, req.Category, req.ChunksWritten)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"accepted": true}, s.logger)
}
