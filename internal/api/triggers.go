package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/orchestrator"
)

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	triggers, err := s.store.ListTriggers(r.Context(), ns.Name,
		queryInt(r, "skip", 0), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	docs := make([]triggerDoc, 0, len(triggers))
	for _, t := range triggers {
		docs = append(docs, triggerToDoc(ns.Name, t))
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	trigger, err := s.store.GetTrigger(r.Context(), ns.Name, chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, triggerToDoc(ns.Name, trigger))
}

type putTriggerBody struct {
	Version     string            `json:"version"`
	Publish     bool              `json:"publish"`
	Parameters  []entity.KeyValue `json:"parameters"`
	Annotations []entity.KeyValue `json:"annotations"`
	Feed        string            `json:"feed"`
}

func (s *Server) handlePutTrigger(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := entity.ValidateName(name, "trigger"); err != nil {
		s.writeError(w, err)
		return
	}

	var body putTriggerBody
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if body.Version == "" {
		body.Version = entity.DefaultVersion
	}

	trigger := &entity.Trigger{
		Name:        name,
		Version:     body.Version,
		Publish:     body.Publish,
		Parameters:  entity.ParamsFromList(body.Parameters),
		Annotations: entity.ParamsFromList(body.Annotations),
		Feed:        body.Feed,
	}
	if err := entity.ValidateParams(trigger.Parameters, "parameters"); err != nil {
		s.writeError(w, err)
		return
	}
	if err := entity.ValidateParams(trigger.Annotations, "annotations"); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.UpsertTrigger(r.Context(), ns.Name, trigger, queryBool(r, "overwrite")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, triggerToDoc(ns.Name, trigger))
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	trigger, err := s.store.DeleteTrigger(r.Context(), ns.Name, chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, triggerToDoc(ns.Name, trigger))
}

func (s *Server) handleFireTrigger(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	subject := subjectFrom(r.Context())

	params := entity.Params{}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &params); err != nil {
			s.writeError(w, err)
			return
		}
	}

	act, fired, err := s.orch.FireTrigger(r.Context(), ns.Name, chi.URLParam(r, "name"), params,
		orchestrator.InvokeOptions{
			Subject: subject.Name,
			AuthKey: subject.UUID + ":" + subject.Key,
		})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if fired == nil {
		fired = []string{}
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"activationId":  act.ActivationID,
		"activationIds": fired,
	})
}
