package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/orchestrator"
	"github.com/penguinwhisk/controller/internal/werr"
)

var webContentTypes = map[string]string{
	"json": "application/json",
	"html": "text/html",
	"text": "text/plain",
	"svg":  "image/svg+xml",
	"http": "",
}

// handleWebAction serves anonymous web invocations:
// /web/{namespace}/{pkg}/{action}.{ext}. The package segment "default"
// selects the namespace-level action. Only actions annotated
// web-export=true are reachable, and an unexported action answers 404
// so probing cannot distinguish missing from private.
func (s *Server) handleWebAction(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	pkg := chi.URLParam(r, "pkg")
	actionSeg := chi.URLParam(r, "action")

	name, ext := splitExtension(actionSeg)
	if _, ok := webContentTypes[ext]; !ok {
		s.writeError(w, werr.Validation("extension", "unsupported extension ."+ext))
		return
	}

	path := name
	if pkg != "default" {
		path = pkg + "/" + name
	}
	action, err := s.store.ResolveAction(r.Context(), namespace, path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if exported, _ := action.Annotations.Lookup("web-export", false).(bool); !exported {
		s.writeError(w, werr.New(werr.KindNotFound, "action "+name+" not found"))
		return
	}
	if required := action.Annotations.Lookup("require-whisk-auth", nil); required != nil {
		provided := r.Header.Get("X-Require-Whisk-Auth")
		if provided == "" || provided != fmt.Sprint(required) {
			s.writeError(w, werr.New(werr.KindAuth, "web action authentication failed"))
			return
		}
	}

	params := s.webParams(r)
	_, res, err := s.orch.InvokeAction(r.Context(), namespace, path, params, orchestrator.InvokeOptions{
		Blocking: true,
		Subject:  "anonymous",
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.renderWebResult(w, ext, res.Response.Result)
}

// webParams assembles the action input from the request: body fields
// first, then query parameters, then the reserved __ow_* context which
// cannot be overridden by the caller.
func (s *Server) webParams(r *http.Request) entity.Params {
	params := entity.Params{}

	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, entity.MaxParameterSize+1))
		if err == nil && len(raw) > 0 {
			var body map[string]any
			if json.Unmarshal(raw, &body) == nil {
				for k, v := range body {
					if !strings.HasPrefix(k, "__ow_") {
						params[k] = v
					}
				}
			} else {
				params["__ow_body"] = base64.StdEncoding.EncodeToString(raw)
			}
		}
	}

	for k, vs := range r.URL.Query() {
		if len(vs) > 0 && !strings.HasPrefix(k, "__ow_") {
			params[k] = vs[0]
		}
	}

	headers := map[string]any{}
	for k, vs := range r.Header {
		if len(vs) > 0 {
			headers[strings.ToLower(k)] = vs[0]
		}
	}

	subPath := chi.URLParam(r, "*")
	if subPath != "" {
		subPath = "/" + subPath
	}

	params["__ow_method"] = strings.ToLower(r.Method)
	params["__ow_headers"] = headers
	params["__ow_path"] = subPath
	params["__ow_query"] = r.URL.RawQuery
	return params
}

// renderWebResult shapes the activation result per the extension. The
// .http form lets the action control status, headers and body; the
// content extensions project a single field. Scalar results are written
// as-is.
func (s *Server) renderWebResult(w http.ResponseWriter, ext string, result any) {
	fields := resultFields(result)
	switch ext {
	case "json":
		s.writeJSON(w, http.StatusOK, result)
	case "http":
		status := http.StatusOK
		if v, ok := fields["statusCode"].(float64); ok {
			status = int(v)
		}
		if headers, ok := fields["headers"].(map[string]any); ok {
			for k, v := range headers {
				w.Header().Set(k, fmt.Sprint(v))
			}
		}
		w.WriteHeader(status)
		if body, ok := fields["body"]; ok {
			writeWebBody(w, body)
		}
	default: // html, text, svg
		w.Header().Set("Content-Type", webContentTypes[ext])
		w.WriteHeader(http.StatusOK)
		if fields == nil {
			writeWebBody(w, result)
			return
		}
		field := fields[ext]
		if field == nil {
			field = fields["body"]
		}
		writeWebBody(w, field)
	}
}

func resultFields(result any) map[string]any {
	switch m := result.(type) {
	case map[string]any:
		return m
	case entity.Params:
		return m
	default:
		return nil
	}
}

func writeWebBody(w http.ResponseWriter, body any) {
	switch v := body.(type) {
	case nil:
	case string:
		io.WriteString(w, v)
	default:
		json.NewEncoder(w).Encode(v)
	}
}

// splitExtension separates the response extension from the action name,
// defaulting to json.
func splitExtension(segment string) (name, ext string) {
	if i := strings.LastIndex(segment, "."); i > 0 {
		return segment[:i], segment[i+1:]
	}
	return segment, "json"
}
