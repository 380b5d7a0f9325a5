package server

import (
	"fmt"
	"net/http"
	"strings"
)

type createSessionRequest struct {
	DocumentID  string   `json:"documentId,omitempty"`
	DocumentIDs []string `json:"documentIds,omitempty"`
}

// parseDocumentIDs normalizes the two accepted shapes: an explicit list,
// or a single (possibly comma-separated) id string. The literal "null"
// and the empty string mean open chat.
func parseDocumentIDs(single string, list []string) []string {
	if len(list) > 0 {
		return list
	}
	single = strings.TrimSpace(single)
	if single == "" || strings.EqualFold(single, "null") {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(single, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	documentIDs := parseDocumentIDs(req.DocumentID, req.DocumentIDs)
	for _, id := range documentIDs {
		if _, err := s.documents.Get(r.Context(), id); err != nil {
			writeError(w, fmt.Errorf("%w: unknown document %q", errInvalidArgument, id))
			return
		}
	}

	session, err := s.contexts.CreateSession(r.Context(), documentIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionDto(session))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.contexts.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDto(session))
}

// handleClearSession drops the raw history and rolling summary of a
// session but keeps the session itself (and its cumulative counter).
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.contexts.ClearSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
