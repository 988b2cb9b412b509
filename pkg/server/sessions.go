package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/elonfeng/xhistory/pkg/paging"
	"github.com/go-chi/chi/v5"
)

var errSessionNotFound = errors.New("session not found")

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*paging.Session, bool) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errSessionNotFound)
	}
	return sess, ok
}

// handleCreateSession opens a session on the current ledger and loads its
// first page.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.Sessions.Create()
	if err := sess.Reload(r.Context()); err != nil {
		s.Sessions.Delete(sess.ID())
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	sess.LoadNextPage(r.Context())
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w, r); !ok {
		return
	}
	s.Sessions.Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionNext(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	loaded := sess.LoadNextPage(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":  loaded,
		"session": sess.Snapshot(),
	})
}

func (s *Server) handleSessionSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	n, err := sess.Search(r.Context(), req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":  n,
		"session": sess.Snapshot(),
	})
}

// handleSessionView sets view and theme explicitly, or toggles them when the
// matching flag is set.
func (s *Server) handleSessionView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		View        paging.View  `json:"view"`
		Theme       paging.Theme `json:"theme"`
		ToggleView  bool         `json:"toggleView"`
		ToggleTheme bool         `json:"toggleTheme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	if req.ToggleView {
		sess.ToggleView()
	} else if req.View != "" {
		if err := sess.SetView(req.View); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.ToggleTheme {
		sess.ToggleTheme()
	} else if req.Theme != "" {
		if err := sess.SetTheme(req.Theme); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}
