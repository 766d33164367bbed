package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/penguinwhisk/controller/internal/entity"
)

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	packages, err := s.store.ListPackages(r.Context(), ns.Name,
		queryInt(r, "skip", 0), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	docs := make([]packageDoc, 0, len(packages))
	for _, pkg := range packages {
		docs = append(docs, packageToDoc(ns.Name, pkg))
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pkg, err := s.store.ResolvePackage(r.Context(), ns.Name, chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, packageToDoc(ns.Name, pkg))
}

type putPackageBody struct {
	Version     string            `json:"version"`
	Publish     bool              `json:"publish"`
	Parameters  []entity.KeyValue `json:"parameters"`
	Annotations []entity.KeyValue `json:"annotations"`
	Binding     *bindingDoc       `json:"binding,omitempty"`
}

func (s *Server) handlePutPackage(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := entity.ValidateName(name, "package"); err != nil {
		s.writeError(w, err)
		return
	}

	var body putPackageBody
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if body.Version == "" {
		body.Version = entity.DefaultVersion
	}

	pkg := &entity.Package{
		Name:        name,
		Version:     body.Version,
		Publish:     body.Publish,
		Parameters:  entity.ParamsFromList(body.Parameters),
		Annotations: entity.ParamsFromList(body.Annotations),
	}
	if err := entity.ValidateParams(pkg.Parameters, "parameters"); err != nil {
		s.writeError(w, err)
		return
	}
	if err := entity.ValidateParams(pkg.Annotations, "annotations"); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Binding != nil {
		bindNS := body.Binding.Namespace
		if bindNS == "_" {
			bindNS = ns.Name
		}
		pkg.Binding = &entity.Binding{Namespace: bindNS, Name: body.Binding.Name}
	}

	if err := s.store.UpsertPackage(r.Context(), ns.Name, pkg, queryBool(r, "overwrite")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, packageToDoc(ns.Name, pkg))
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	ns, err := s.resolveNamespace(r, chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.store.DeletePackage(r.Context(), ns.Name, name, queryBool(r, "force")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"name": name})
}
