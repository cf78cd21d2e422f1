package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, checks := s.service.Ready(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"isAdmin":       session.Admin,
			"expiresAt":     session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
				return
			}
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	actor := session.Actor

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		var workspaceID int64
		if raw := strings.TrimSpace(query.Get("workspace")); raw != "" {
			parsed, ok := parseID(raw)
			if !ok {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "workspace must be an id", nil)
				return
			}
			workspaceID = parsed
		}
		limit := 20
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		payload, err := s.service.Search(r.Context(), actor, query.Get("q"), query.Get("type"), workspaceID, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if parts[1] == "users" && r.Method == http.MethodGet {
		switch len(parts) {
		case 2:
			payload, err := s.service.ListUsers(r.Context(), actor)
			s.respond(w, r, http.StatusOK, payload, err)
			return
		case 3:
			id, ok := parseID(parts[2])
			if !ok {
				break
			}
			payload, err := s.service.GetUser(r.Context(), actor, id)
			s.respond(w, r, http.StatusOK, payload, err)
			return
		}
	}

	if rt, ok := parseRoute(parts[1:]); ok {
		s.handleResource(w, r, actor, rt)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// route is a parsed resource path below /api. ID is zero for collections.
type route struct {
	Scope Scope
	Name  string
	ID    int64
}

var childCollections = map[string]map[string]bool{
	"workspace": {"tag": true, "priority": true, "status": true, "comment": true, "category": true},
	"category":  {"comment": true, "project": true, "task": true},
	"project":   {"comment": true, "task": true},
	"task":      {"comment": true},
}

// parseRoute reads alternating collection and id segments starting at
// "workspace". Every id except the last becomes part of the scope.
func parseRoute(parts []string) (route, bool) {
	if len(parts) == 0 || parts[0] != "workspace" {
		return route{}, false
	}
	if len(parts) == 1 {
		return route{Name: "workspace"}, true
	}
	wsID, ok := parseID(parts[1])
	if !ok {
		return route{}, false
	}
	if len(parts) == 2 {
		return route{Name: "workspace", ID: wsID}, true
	}

	scope := Scope{Workspace: wsID}
	parent := "workspace"
	segments := parts[2:]
	for {
		name := segments[0]
		if !childCollections[parent][name] {
			return route{}, false
		}
		if len(segments) == 1 {
			return route{Scope: scope, Name: name}, true
		}
		id, ok := parseID(segments[1])
		if !ok {
			return route{}, false
		}
		if len(segments) == 2 {
			return route{Scope: scope, Name: name, ID: id}, true
		}
		switch name {
		case "category":
			scope.Category = id
		case "project":
			scope.Project = id
		case "task":
			scope.Task = id
		default:
			return route{}, false
		}
		parent = name
		segments = segments[2:]
	}
}

// endpoints binds one resource's operations to a parsed route.
type endpoints struct {
	list   func(*http.Request) (any, error)
	create func(*http.Request) (any, error)
	get    func(*http.Request) (any, error)
	update func(*http.Request) (any, error)
	remove func(*http.Request) error
}

func (s *HTTPServer) endpoints(actor Actor, rt route) endpoints {
	svc := s.service
	id := rt.ID
	sc := rt.Scope

	switch rt.Name {
	case "workspace":
		return endpoints{
			list: func(r *http.Request) (any, error) { return anyOf(svc.ListWorkspaces(r.Context(), actor)) },
			create: func(r *http.Request) (any, error) {
				return withBody(r, func(in WorkspaceInput) (map[string]any, error) { return svc.CreateWorkspace(r.Context(), actor, in) })
			},
			get: func(r *http.Request) (any, error) { return anyOf(svc.GetWorkspace(r.Context(), actor, id)) },
			update: func(r *http.Request) (any, error) {
				return withBody(r, func(in WorkspaceInput) (map[string]any, error) { return svc.UpdateWorkspace(r.Context(), actor, id, in) })
			},
			remove: func(r *http.Request) error { return svc.DeleteWorkspace(r.Context(), actor, id) },
		}

	case "tag", "priority", "status":
		kind := store.LabelKind(rt.Name)
		ws := sc.Workspace
		return endpoints{
			list: func(r *http.Request) (any, error) { return anyOf(svc.ListLabels(r.Context(), actor, ws, kind)) },
			create: func(r *http.Request) (any, error) {
				return withBody(r, func(in LabelInput) (map[string]any, error) { return svc.CreateLabel(r.Context(), actor, ws, kind, in) })
			},
			get: func(r *http.Request) (any, error) { return anyOf(svc.GetLabel(r.Context(), actor, ws, kind, id)) },
			update: func(r *http.Request) (any, error) {
				return withBody(r, func(in LabelInput) (map[string]any, error) { return svc.UpdateLabel(r.Context(), actor, ws, kind, id, in) })
			},
			remove: func(r *http.Request) error { return svc.DeleteLabel(r.Context(), actor, ws, kind, id) },
		}

	case "category":
		ws := sc.Workspace
		return endpoints{
			list: func(r *http.Request) (any, error) {
				return anyOf(svc.ListCategories(r.Context(), actor, ws, listOptions(r)))
			},
			create: func(r *http.Request) (any, error) {
				return withBody(r, func(in CategoryInput) (map[string]any, error) { return svc.CreateCategory(r.Context(), actor, ws, in) })
			},
			get: func(r *http.Request) (any, error) { return anyOf(svc.GetCategory(r.Context(), actor, ws, id)) },
			update: func(r *http.Request) (any, error) {
				return withBody(r, func(in CategoryInput) (map[string]any, error) { return svc.UpdateCategory(r.Context(), actor, ws, id, in) })
			},
			remove: func(r *http.Request) error { return svc.DeleteCategory(r.Context(), actor, ws, id) },
		}

	case "comment":
		return endpoints{
			list: func(r *http.Request) (any, error) { return anyOf(svc.ListComments(r.Context(), actor, sc, listOptions(r))) },
			create: func(r *http.Request) (any, error) {
				return withBody(r, func(in CommentInput) (map[string]any, error) { return svc.CreateComment(r.Context(), actor, sc, in) })
			},
			get: func(r *http.Request) (any, error) { return anyOf(svc.GetComment(r.Context(), actor, sc, id)) },
			update: func(r *http.Request) (any, error) {
				return withBody(r, func(in CommentInput) (map[string]any, error) { return svc.UpdateComment(r.Context(), actor, sc, id, in) })
			},
			remove: func(r *http.Request) error { return svc.DeleteComment(r.Context(), actor, sc, id) },
		}

	default:
		kind := store.Projects
		if rt.Name == "task" {
			kind = store.Tasks
		}
		return endpoints{
			list: func(r *http.Request) (any, error) {
				return anyOf(svc.ListWorkItems(r.Context(), actor, sc, kind, listOptions(r)))
			},
			create: func(r *http.Request) (any, error) {
				return withBody(r, func(in WorkItemInput) (map[string]any, error) {
					return svc.CreateWorkItem(r.Context(), actor, sc, kind, in)
				})
			},
			get: func(r *http.Request) (any, error) { return anyOf(svc.GetWorkItem(r.Context(), actor, sc, kind, id)) },
			update: func(r *http.Request) (any, error) {
				return withBody(r, func(in WorkItemInput) (map[string]any, error) {
					return svc.UpdateWorkItem(r.Context(), actor, sc, kind, id, in)
				})
			},
			remove: func(r *http.Request) error { return svc.DeleteWorkItem(r.Context(), actor, sc, kind, id) },
		}
	}
}

func (s *HTTPServer) handleResource(w http.ResponseWriter, r *http.Request, actor Actor, rt route) {
	ep := s.endpoints(actor, rt)

	if rt.ID == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := ep.list(r)
			s.respond(w, r, http.StatusOK, payload, err)
		case http.MethodPost:
			payload, err := ep.create(r)
			s.respond(w, r, http.StatusCreated, payload, err)
		default:
			s.fail(w, r, errUnsupported)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		payload, err := ep.get(r)
		s.respond(w, r, http.StatusOK, payload, err)
	case http.MethodPut, http.MethodPatch:
		payload, err := ep.update(r)
		s.respond(w, r, http.StatusOK, payload, err)
	case http.MethodDelete:
		if err := ep.remove(r); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.fail(w, r, errUnsupported)
	}
}

func listOptions(r *http.Request) ListOptions {
	query := r.URL.Query()
	return ListOptions{
		Nested:   queryBool(query.Get("tree")),
		Archived: queryBool(query.Get("archived")),
	}
}

func queryBool(raw string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && parsed
}

func anyOf[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

// withBody decodes the request body into T before calling fn.
func withBody[T any](r *http.Request, fn func(T) (map[string]any, error)) (any, error) {
	var input T
	if err := decodeBody(r, &input); err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	return anyOf(fn(input))
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

// fail maps err to its response. Unexpected errors are logged with the
// request id since the client only sees a generic message.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.SignUp(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"isAdmin":      session.Admin,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody treats an empty body as an empty object.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
