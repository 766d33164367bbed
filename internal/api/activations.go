package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/penguinwhisk/controller/internal/store"
	"github.com/penguinwhisk/controller/internal/werr"
)

func (s *Server) handleListActivations(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	filter := store.ActivationFilter{
		Name:  r.URL.Query().Get("name"),
		Since: int64(queryInt(r, "since", 0)),
		Upto:  int64(queryInt(r, "upto", 0)),
		Skip:  queryInt(r, "skip", 0),
		Limit: queryInt(r, "limit", 30),
	}
	activations, err := s.store.ListActivations(r.Context(), ns.Name, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	withDetail := queryBool(r, "docs")
	docs := make([]activationDoc, 0, len(activations))
	for _, act := range activations {
		docs = append(docs, activationToDoc(act, withDetail))
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetActivation(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	act, err := s.store.GetActivation(r.Context(), ns.Name, chi.URLParam(r, "activationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, activationToDoc(act, true))
}

func (s *Server) handleActivationLogs(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	act, err := s.store.GetActivation(r.Context(), ns.Name, chi.URLParam(r, "activationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"logs": act.Logs})
}

func (s *Server) handleActivationResult(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	act, err := s.store.GetActivation(r.Context(), ns.Name, chi.URLParam(r, "activationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !act.Finalized() {
		s.writeError(w, werr.New(werr.KindNotFound, "activation "+act.ActivationID+" is still pending"))
		return
	}
	s.writeJSON(w, http.StatusOK, act.Response)
}
