package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rules, err := s.store.ListRules(r.Context(), ns.Name,
		queryInt(r, "skip", 0), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	docs := make([]ruleDoc, 0, len(rules))
	for _, rule := range rules {
		docs = append(docs, ruleToDoc(ns.Name, rule))
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rule, err := s.store.GetRule(r.Context(), ns.Name, chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ruleToDoc(ns.Name, rule))
}

type putRuleBody struct {
	Version string `json:"version"`
	Status  string `json:"status"`
	Trigger string `json:"trigger"`
	Action  string `json:"action"`
}

func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := entity.ValidateName(name, "rule"); err != nil {
		s.writeError(w, err)
		return
	}

	var body putRuleBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Trigger == "" || body.Action == "" {
		s.writeError(w, werr.New(werr.KindValidation, "rule requires trigger and action"))
		return
	}
	if body.Version == "" {
		body.Version = entity.DefaultVersion
	}

	rule := &entity.Rule{
		Name:    name,
		Version: body.Version,
		Status:  body.Status,
	}
	if err := s.store.UpsertRule(r.Context(), ns.Name, rule, body.Trigger, body.Action, queryBool(r, "overwrite")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ruleToDoc(ns.Name, rule))
}

type ruleStatusBody struct {
	Status string `json:"status"`
}

func (s *Server) handleSetRuleStatus(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body ruleStatusBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	rule, err := s.store.SetRuleStatus(r.Context(), ns.Name, chi.URLParam(r, "name"), body.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ruleToDoc(ns.Name, rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rule, err := s.store.DeleteRule(r.Context(), ns.Name, chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ruleToDoc(ns.Name, rule))
}
