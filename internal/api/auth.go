package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

type contextKey int

const subjectKey contextKey = iota

// authenticate verifies Basic uuid:key credentials and attaches the
// subject to the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Basic ") {
			s.writeError(w, werr.New(werr.KindAuth, "authorization required"))
			return
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
		if err != nil {
			s.writeError(w, werr.New(werr.KindAuth, "invalid credentials"))
			return
		}
		uuid, key, ok := strings.Cut(string(raw), ":")
		if !ok {
			s.writeError(w, werr.New(werr.KindAuth, "invalid credentials"))
			return
		}
		subject, err := s.store.AuthenticateSubject(r.Context(), uuid, key)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), subjectKey, subject)))
	})
}

func subjectFrom(ctx context.Context) *entity.Subject {
	sub, _ := ctx.Value(subjectKey).(*entity.Subject)
	return sub
}

// resolveNamespace maps the URL namespace segment to a concrete
// namespace and enforces ownership. "_" selects the subject's default
// namespace, which is the subject's own name.
func (s *Server) resolveNamespace(r *http.Request, name string) (*entity.Namespace, error) {
	subject := subjectFrom(r.Context())
	if subject == nil {
		return nil, werr.New(werr.KindAuth, "authorization required")
	}
	if name == "_" {
		name = subject.Name
	}
	ns, err := s.store.ResolveNamespace(r.Context(), name)
	if err != nil {
		return nil, err
	}
	if ns.OwnerID != subject.ID {
		return nil, werr.New(werr.KindForbidden, "namespace "+name+" is not accessible")
	}
	return ns, nil
}
