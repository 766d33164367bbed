package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/orchestrator"
	"github.com/penguinwhisk/controller/internal/werr"
)

// actionPath reassembles the action path from the one- or two-segment
// route: "{name}" or "{package}/{name}".
func actionPath(r *http.Request) string {
	first := chi.URLParam(r, "first")
	if second := chi.URLParam(r, "second"); second != "" {
		return first + "/" + second
	}
	return first
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	actions, err := s.store.ListActions(r.Context(), ns.Name,
		queryInt(r, "skip", 0), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	docs := make([]actionDoc, 0, len(actions))
	for _, action := range actions {
		docs = append(docs, actionToDoc(action, nil))
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	action, err := s.store.ResolveAction(r.Context(), ns.Name, actionPath(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var code *string
	if queryBool(r, "code") && action.CodeHash != "" {
		raw, err := s.blob.Get(r.Context(), action.Namespace, action.Name, action.CodeHash)
		if err != nil {
			s.writeError(w, err)
			return
		}
		text := string(raw)
		code = &text
	}
	s.writeJSON(w, http.StatusOK, actionToDoc(action, code))
}

type putActionBody struct {
	Version     string            `json:"version"`
	Publish     bool              `json:"publish"`
	Exec        execDoc           `json:"exec"`
	Limits      limitsDoc         `json:"limits"`
	Parameters  []entity.KeyValue `json:"parameters"`
	Annotations []entity.KeyValue `json:"annotations"`
}

func (s *Server) handlePutAction(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pkgName, name, err := entity.SplitPath(actionPath(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := entity.ValidateName(name, "action"); err != nil {
		s.writeError(w, err)
		return
	}

	var body putActionBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Version == "" {
		body.Version = entity.DefaultVersion
	}

	action := &entity.Action{
		Name:    name,
		Version: body.Version,
		Publish: body.Publish,
		Exec: entity.Exec{
			Kind:       body.Exec.Kind,
			Main:       body.Exec.Main,
			Binary:     body.Exec.Binary,
			Image:      body.Exec.Image,
			Components: body.Exec.Components,
		},
		Limits:      body.Limits.toLimits(),
		Parameters:  entity.ParamsFromList(body.Parameters),
		Annotations: entity.ParamsFromList(body.Annotations),
	}
	if err := entity.ValidateExec(action.Exec); err != nil {
		s.writeError(w, err)
		return
	}
	if err := entity.ValidateLimits(action.Limits); err != nil {
		s.writeError(w, err)
		return
	}
	if err := entity.ValidateParams(action.Parameters, "parameters"); err != nil {
		s.writeError(w, err)
		return
	}
	if err := entity.ValidateParams(action.Annotations, "annotations"); err != nil {
		s.writeError(w, err)
		return
	}

	overwrite := queryBool(r, "overwrite")
	switch {
	case action.Exec.IsSequence():
		// Sequences carry no code blob.
	case body.Exec.Code != nil:
		code := []byte(*body.Exec.Code)
		if err := entity.ValidateCode(code); err != nil {
			s.writeError(w, err)
			return
		}
		hash, err := s.blob.Put(r.Context(), ns.Name, name, code, action.Exec.Binary)
		if err != nil {
			s.writeError(w, err)
			return
		}
		action.CodeHash = hash
	case overwrite:
		// Updating metadata only: keep the stored code.
		existing, err := s.store.ResolveAction(r.Context(), ns.Name, actionPath(r))
		if err != nil {
			s.writeError(w, err)
			return
		}
		action.CodeHash = existing.CodeHash
	default:
		s.writeError(w, werr.Validation("exec.code", "action code is required"))
		return
	}

	if err := s.store.UpsertAction(r.Context(), ns.Name, pkgName, action, overwrite); err != nil {
		s.writeError(w, err)
		return
	}
	action.Namespace = ns.Name
	if pkgName != nil {
		action.PackageName = *pkgName
	}
	s.writeJSON(w, http.StatusOK, actionToDoc(action, nil))
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	action, err := s.store.DeleteAction(r.Context(), ns.Name, actionPath(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Best effort: the record is gone either way.
	if action.CodeHash != "" {
		if _, err := s.blob.Delete(r.Context(), action.Namespace, action.Name, action.CodeHash); err != nil {
			s.log.Warn("delete code blob failed", zap.Error(err))
		}
	}
	s.writeJSON(w, http.StatusOK, actionToDoc(action, nil))
}

func (s *Server) handleInvokeAction(w http.ResponseWriter, r *http.Request) {
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
	if err := entity.ValidateParams(params, "parameters"); err != nil {
		s.writeError(w, err)
		return
	}

	blocking := queryBool(r, "blocking")
	act, res, err := s.orch.InvokeAction(r.Context(), ns.Name, actionPath(r), params, orchestrator.InvokeOptions{
		Blocking: blocking,
		Subject:  subject.Name,
		AuthKey:  subject.UUID + ":" + subject.Key,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !blocking {
		s.writeJSON(w, http.StatusAccepted, map[string]string{"activationId": act.ActivationID})
		return
	}
	if queryBool(r, "result") {
		s.writeJSON(w, http.StatusOK, res.Response.Result)
		return
	}
	final, err := s.store.GetActivation(r.Context(), ns.Name, act.ActivationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, activationToDoc(final, true))
}
