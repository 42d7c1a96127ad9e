// Package exposure implements the HTTP surface that routes task and event
// calls into an arbor.Runtime: POST {base}/task/{id} and POST
// {base}/event/{id}, JSON or multipart bodies, shared-secret auth, and
// tunnel allow-listing.
package exposure

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/arborfn/arbor"
)

// TunnelMode is the declared role of a resource tagged Tunnel.
type TunnelMode string

const (
	ModeServer TunnelMode = "server"
	ModeClient TunnelMode = "client"
)

// TunnelConfig is the payload attached via Tunnel.With on a core resource,
// describing the allow-list Server enforces for tunnel-originated calls.
type TunnelConfig struct {
	Mode      TunnelMode
	Transport string
	Tasks     []string
	Events    []string
}

// Tunnel is the tag a resource attaches to declare itself part of the
// tunnel boundary. Server reads every tagged resource's config to compute
// its combined allow-list.
var Tunnel = arbor.NewTag[TunnelConfig]("arbor.tunnel")

// Config configures a Server.
type Config struct {
	BasePath    string
	TokenHeader string // default "x-runner-token"
	Token       string // empty disables auth
	Logger      zerolog.Logger
}

// Server exposes a Runtime's tasks and events over HTTP.
type Server struct {
	rt        *arbor.Runtime
	basePath  string
	header    string
	token     string
	log       zerolog.Logger
	allowTask map[string]bool
	allowEvt  map[string]bool
	router    chi.Router
}

// NewServer builds a Server for rt. The allow-list is computed once, from
// every resource carrying the Tunnel tag in "server" mode; an empty
// allow-list (no tunnel resources declared) permits every task/event.
func NewServer(rt *arbor.Runtime, cfg Config) *Server {
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "x-runner-token"
	}

	s := &Server{
		rt:       rt,
		basePath: strings.TrimSuffix(cfg.BasePath, "/"),
		header:   cfg.TokenHeader,
		token:    cfg.Token,
		log:      cfg.Logger,
	}
	s.buildAllowList()
	s.router = s.newRouter()
	return s
}

func (s *Server) buildAllowList() {
	var tasks, events []string
	for _, res := range s.rt.ResourcesTagged(Tunnel.Ref().ID()) {
		cfg, ok := Tunnel.Extract(res)
		if !ok || cfg.Mode != ModeServer {
			continue
		}
		tasks = append(tasks, cfg.Tasks...)
		events = append(events, cfg.Events...)
	}
	if len(tasks) == 0 && len(events) == 0 {
		return
	}
	s.allowTask = toSet(tasks)
	s.allowEvt = toSet(events)
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (s *Server) taskAllowed(id string) bool { return s.allowTask == nil || s.allowTask[id] }
func (s *Server) eventAllowed(id string) bool { return s.allowEvt == nil || s.allowEvt[id] }

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown path")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is supported")
	})
	routes := func(r chi.Router) {
		r.Post("/task/{id}", s.handleTask)
		r.Post("/event/{id}", s.handleEvent)
	}
	if s.basePath == "" {
		routes(r)
	} else {
		r.Route(s.basePath, routes)
	}
	return r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get(s.header) != s.token {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type callBody struct {
	Input   json.RawMessage `json:"input,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type manifest struct {
	Input json.RawMessage `json:"input,omitempty"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.taskAllowed(id) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "task not in tunnel allow-list")
		return
	}
	task, ok := s.rt.TaskByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown task id")
		return
	}

	input, files, status, code, msg := s.readBody(r)
	if status != 0 {
		writeError(w, status, code, msg)
		return
	}
	ctx := r.Context()
	if len(files) > 0 {
		ctx = withUploads(ctx, files)
	}

	var decoded any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &decoded); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_MULTIPART", "input is not valid JSON")
			return
		}
	}

	result, err := s.rt.RunTask(ctx, task, decoded)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.eventAllowed(id) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "event not in tunnel allow-list")
		return
	}
	event, ok := s.rt.EventByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown event id")
		return
	}

	var body callBody
	if r.Body != nil {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "MISSING_MANIFEST", "body is not valid JSON")
			return
		}
	}

	var payload any
	if len(body.Payload) > 0 {
		if err := json.Unmarshal(body.Payload, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "MISSING_MANIFEST", "payload is not valid JSON")
			return
		}
	}

	if err := s.rt.Emit(r.Context(), event, payload); err != nil {
		s.writeRunError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// readBody decodes either a JSON body ({input}) or a multipart body (a
// required __manifest JSON part plus file parts), returning the decoded
// input and the uploaded file parts. On error it returns a nonzero status
// plus the spec's named error code.
func (s *Server) readBody(r *http.Request) (input json.RawMessage, files []*multipart.FileHeader, status int, code string, msg string) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		var body callBody
		if r.Body != nil {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
				return nil, nil, http.StatusBadRequest, "INVALID_MULTIPART", "body is not valid JSON"
			}
		}
		return body.Input, nil, 0, "", ""
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, http.StatusBadRequest, "INVALID_MULTIPART", err.Error()
	}
	manifestValues := r.MultipartForm.Value["__manifest"]
	if len(manifestValues) == 0 {
		return nil, nil, http.StatusBadRequest, "MISSING_MANIFEST", "multipart body missing __manifest field"
	}
	var m manifest
	if err := json.Unmarshal([]byte(manifestValues[0]), &m); err != nil {
		return nil, nil, http.StatusBadRequest, "MISSING_MANIFEST", "__manifest is not valid JSON"
	}
	var parts []*multipart.FileHeader
	for _, fhs := range r.MultipartForm.File {
		parts = append(parts, fhs...)
	}
	return m.Input, parts, 0, "", ""
}

func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(r.Context().Err(), context.Canceled) {
		writeError(w, 499, "CLIENT_CLOSED_REQUEST", "client aborted the request")
		return
	}
	kind, _ := arbor.KindOf(err)
	s.log.Error().Err(err).Str("kind", string(kind)).Msg("exposure: handler failed")
	writeError(w, http.StatusInternalServerError, string(kind), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

type uploadsKey struct{}

func withUploads(ctx context.Context, files []*multipart.FileHeader) context.Context {
	return context.WithValue(ctx, uploadsKey{}, files)
}

// UploadsFromContext returns the multipart file parts attached to the
// request that triggered the current task run, if any.
func UploadsFromContext(ctx context.Context) ([]*multipart.FileHeader, bool) {
	files, ok := ctx.Value(uploadsKey{}).([]*multipart.FileHeader)
	return files, ok
}
