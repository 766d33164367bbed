package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/penguinwhisk/controller/internal/entity"
)

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	subject := subjectFrom(r.Context())
	namespaces, err := s.store.ListNamespaces(r.Context(), subject.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// "_" is always listed first as the default-namespace alias.
	names := []string{"_"}
	for _, ns := range namespaces {
		names = append(names, ns.Name)
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, namespaceToDoc(ns))
}

type createNamespaceBody struct {
	Description string            `json:"description"`
	Limits      []entity.KeyValue `json:"limits"`
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	subject := subjectFrom(r.Context())
	name := chi.URLParam(r, "namespace")
	if name == "_" {
		name = subject.Name
	}
	if err := entity.ValidateName(name, "namespace"); err != nil {
		s.writeError(w, err)
		return
	}

	var body createNamespaceBody
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, err)
			return
		}
	}

	ns := &entity.Namespace{
		Name:        name,
		UUID:        uuid.NewString(),
		OwnerID:     subject.ID,
		Description: body.Description,
		Limits:      entity.ParamsFromList(body.Limits),
	}
	if err := s.store.CreateNamespace(r.Context(), ns); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, namespaceToDoc(ns))
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteNamespace(r.Context(), ns.Name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, namespaceToDoc(ns))
}

func (s *Server) handleNamespaceLimits(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ns.Limits.ToList())
}
