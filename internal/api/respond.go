package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/werr"
)

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := werr.KindOf(err)
	body := errorBody{Error: err.Error(), Code: kind.String()}
	var we *werr.Error
	if errors.As(err, &we) {
		body.Field = we.Field
	}
	if kind == werr.KindInternal {
		s.log.Error("request failed", zap.Error(err))
		body.Error = "internal error"
	}
	s.writeJSON(w, kind.HTTPStatus(), body)
}

// decodeBody decodes a JSON request body into dst, mapping malformed
// input to a validation error.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return werr.New(werr.KindValidation, "request body required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return werr.Wrap(err, werr.KindValidation, "malformed JSON body")
	}
	return nil
}
