package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/eifl-ci/eifl/internal/pushtrigger"
	"github.com/go-chi/chi/v5"
)

// refUpdateRequest mirrors the old/new/ref triples the out-of-scope Git
// smart-HTTP transport would decode from a receive-pack request and forward
// here (spec §6's parseReceivePackRequest contract).
type refUpdateRequest struct {
	OldRev  string `json:"oldrev"`
	NewRev  string `json:"newrev"`
	RefName string `json:"refname"`
}

type gitReceiveRequest struct {
	Updates []refUpdateRequest `json:"updates"`
}

// handleGitReceive implements POST /git/{repoPath}/receive (SPEC_FULL
// §10.3). repoPath is matched as a wildcard tail since on-disk repo paths
// contain slashes; the trailing "/receive" segment is trimmed back off.
func (s *Server) handleGitReceive(w http.ResponseWriter, r *http.Request) {
	repoPath := strings.TrimSuffix(chi.URLParam(r, "*"), "/receive")
	if repoPath == "" {
		errorJSON(w, "missing repo path", "VALIDATION", http.StatusBadRequest)
		return
	}

	var body gitReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}

	repo, err := s.Store.GetRepoByPath(r.Context(), repoPath)
	if err != nil {
		var nfErr *core.NotFoundError
		if errors.As(err, &nfErr) {
			errorJSON(w, "unknown repo path", "NOT_FOUND", http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}

	updates := make([]pushtrigger.RefUpdate, len(body.Updates))
	for i, u := range body.Updates {
		updates[i] = pushtrigger.RefUpdate{OldRev: u.OldRev, NewRev: u.NewRev, RefName: u.RefName}
	}
	s.PushTrigger.HandlePush(r.Context(), repo, updates)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
