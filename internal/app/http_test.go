package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskhub/api/internal/config"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
)

const testBase = "http://taskhub.test/api"

type harness struct {
	t        *testing.T
	store    *fakeStore
	sessions *fakeSessions
	search   *fakeSearcher
	service  *Service
	handler  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		PublicURL:  "http://taskhub.test/",
		CORSOrigin: "*",
	}
	h := &harness{
		t:        t,
		store:    newFakeStore(),
		sessions: newFakeSessions(),
		search:   newFakeSearcher(),
	}
	h.service = New(cfg, h.store, h.sessions, h.search, zap.NewNop())
	h.handler = NewHTTPServer(h.service, cfg.CORSOrigin, zap.NewNop()).Handler()
	return h
}

// login creates a user directly in the store and returns an access token.
func (h *harness) login(name string, admin bool) string {
	h.t.Helper()
	user, err := h.store.CreateUser(context.Background(), store.User{Username: name, Email: name + "@example.com", IsAdmin: admin})
	require.NoError(h.t, err)
	session, err := h.service.issueSession(context.Background(), user)
	require.NoError(h.t, err)
	return session.Token
}

func (h *harness) do(token, method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) object(rr *httptest.ResponseRecorder, status int) map[string]any {
	h.t.Helper()
	require.Equal(h.t, status, rr.Code, rr.Body.String())
	var out map[string]any
	require.NoError(h.t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func (h *harness) list(rr *httptest.ResponseRecorder) []map[string]any {
	h.t.Helper()
	require.Equal(h.t, http.StatusOK, rr.Code, rr.Body.String())
	var out []map[string]any
	require.NoError(h.t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

// create posts body to path and returns the new id.
func (h *harness) create(token, path string, body any) int64 {
	h.t.Helper()
	out := h.object(h.do(token, http.MethodPost, path, body), http.StatusCreated)
	return int64(out["id"].(float64))
}

func fieldErrors(t *testing.T, out map[string]any, field string) []any {
	t.Helper()
	assert.Equal(t, "VALIDATION_ERROR", out["code"])
	details, ok := out["details"].(map[string]any)
	require.True(t, ok, "details missing: %v", out)
	messages, ok := details[field].([]any)
	require.True(t, ok, "no %s errors in %v", field, details)
	return messages
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t)

	health := h.object(h.do("", http.MethodGet, "/api/health", nil), http.StatusOK)
	assert.Equal(t, true, health["ok"])

	ready := h.object(h.do("", http.MethodGet, "/api/ready", nil), http.StatusOK)
	assert.Equal(t, "ready", ready["status"])
	checks := ready["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["search"].(map[string]any)["status"])

	h.store.pingErr = errors.New("connection refused")
	h.search.status = "unavailable"
	notReady := h.object(h.do("", http.MethodGet, "/api/ready", nil), http.StatusServiceUnavailable)
	assert.Equal(t, "not_ready", notReady["status"])
	checks = notReady["checks"].(map[string]any)
	assert.Equal(t, "error", checks["database"].(map[string]any)["status"])
	assert.Equal(t, "unavailable", checks["search"].(map[string]any)["status"])
}

func TestResourceRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	rr := h.do("", http.MethodGet, "/api/workspace", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.do("not-a-token", http.MethodGet, "/api/workspace", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthFlow(t *testing.T) {
	h := newHarness(t)

	signup := h.object(h.do("", http.MethodPost, "/api/auth/signup", map[string]any{
		"username": "avery", "email": "Avery@Example.com", "password": "hunter22!",
	}), http.StatusCreated)
	assert.Equal(t, "avery@example.com", signup["email"])
	assert.Equal(t, fmt.Sprintf("%s/users/%v", testBase, signup["id"]), signup["url"])

	bad := h.object(h.do("", http.MethodPost, "/api/auth/signin", map[string]any{
		"email": "avery@example.com", "password": "wrong-password",
	}), http.StatusUnauthorized)
	assert.Equal(t, "INVALID_CREDENTIALS", bad["code"])

	signin := h.object(h.do("", http.MethodPost, "/api/auth/signin", map[string]any{
		"email": "avery@example.com", "password": "hunter22!",
	}), http.StatusOK)
	token := signin["accessToken"].(string)
	refresh := signin["refreshToken"].(string)

	me := h.object(h.do(token, http.MethodGet, "/api/session", nil), http.StatusOK)
	assert.Equal(t, true, me["authenticated"])
	assert.Equal(t, "avery", me["userName"])

	rotated := h.object(h.do("", http.MethodPost, "/api/session/refresh", map[string]any{"refreshToken": refresh}), http.StatusOK)
	assert.NotEqual(t, refresh, rotated["refreshToken"])

	reused := h.do("", http.MethodPost, "/api/session/refresh", map[string]any{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, reused.Code)

	h.object(h.do(token, http.MethodPost, "/api/session/logout", map[string]any{"refreshToken": rotated["refreshToken"]}), http.StatusOK)
	assert.Equal(t, http.StatusUnauthorized, h.do(token, http.MethodGet, "/api/workspace", nil).Code)
}

func TestSignUpReportsFieldErrors(t *testing.T) {
	h := newHarness(t)

	out := h.object(h.do("", http.MethodPost, "/api/auth/signup", map[string]any{
		"username": "", "email": "nope", "password": "short",
	}), http.StatusUnprocessableEntity)
	fieldErrors(t, out, "username")
	fieldErrors(t, out, "email")
	fieldErrors(t, out, "password")
}

func TestWorkspaceEmbedsSiblingLinks(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)

	ws := h.object(h.do(token, http.MethodPost, "/api/workspace", map[string]any{"name": " Home "}), http.StatusCreated)
	id := ws["id"]
	assert.Equal(t, "Home", ws["name"])
	assert.Equal(t, fmt.Sprintf("%s/workspace/%v", testBase, id), ws["url"])
	assert.Equal(t, fmt.Sprintf("%s/workspace/%v/tag", testBase, id), ws["tagList"])
	assert.Equal(t, fmt.Sprintf("%s/workspace/%v/category", testBase, id), ws["categoryList"])
	assert.Equal(t, fmt.Sprintf("%s/workspace/%v/comment", testBase, id), ws["commentList"])

	dup := h.object(h.do(token, http.MethodPost, "/api/workspace", map[string]any{"name": "HOME"}), http.StatusUnprocessableEntity)
	fieldErrors(t, dup, "name")

	missing := h.object(h.do(token, http.MethodPost, "/api/workspace", map[string]any{}), http.StatusUnprocessableEntity)
	fieldErrors(t, missing, "name")

	path := fmt.Sprintf("/api/workspace/%v", id)
	updated := h.object(h.do(token, http.MethodPatch, path, map[string]any{"description": "mine"}), http.StatusOK)
	assert.Equal(t, "Home", updated["name"])
	assert.Equal(t, "mine", updated["description"])

	assert.Len(t, h.list(h.do(token, http.MethodGet, "/api/workspace", nil)), 1)
	assert.Equal(t, http.StatusNoContent, h.do(token, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(token, http.MethodGet, path, nil).Code)
}

func TestLabelNamesAreUniquePerWorkspace(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)
	first := h.create(token, "/api/workspace", map[string]any{"name": "One"})
	second := h.create(token, "/api/workspace", map[string]any{"name": "Two"})

	h.create(token, fmt.Sprintf("/api/workspace/%d/priority", first), map[string]any{"name": "Urgent"})
	dup := h.object(h.do(token, http.MethodPost, fmt.Sprintf("/api/workspace/%d/priority", first), map[string]any{"name": "urgent"}), http.StatusUnprocessableEntity)
	fieldErrors(t, dup, "name")

	other := h.object(h.do(token, http.MethodPost, fmt.Sprintf("/api/workspace/%d/priority", second), map[string]any{"name": "urgent"}), http.StatusCreated)
	assert.Equal(t, fmt.Sprintf("%s/workspace/%d", testBase, second), other["parentUrl"])

	// the same name is fine for a different label kind
	h.create(token, fmt.Sprintf("/api/workspace/%d/status", first), map[string]any{"name": "Urgent"})
}

func TestCategoryTreeLifecycle(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)
	ws := h.create(token, "/api/workspace", map[string]any{"name": "Home"})
	base := fmt.Sprintf("/api/workspace/%d/category", ws)

	a := h.create(token, base, map[string]any{"name": "A"})
	b := h.create(token, base, map[string]any{"name": "B", "parent": a})
	c := h.create(token, base, map[string]any{"name": "C", "parent": b})
	d := h.create(token, base, map[string]any{"name": "D"})

	url := func(id int64) string { return fmt.Sprintf("%s/workspace/%d/category/%d", testBase, ws, id) }

	detail := h.object(h.do(token, http.MethodGet, fmt.Sprintf("%s/%d", base, a), nil), http.StatusOK)
	assert.Nil(t, detail["parentUrl"])
	assert.Equal(t, map[string]any{
		fmt.Sprint(b): map[string]any{
			"url": url(b),
			"childrenUrl": map[string]any{
				fmt.Sprint(c): map[string]any{"url": url(c)},
			},
		},
	}, detail["childrenUrl"])

	leaf := h.object(h.do(token, http.MethodGet, fmt.Sprintf("%s/%d", base, c), nil), http.StatusOK)
	assert.Equal(t, url(b), leaf["parentUrl"])
	assert.Equal(t, map[string]any{}, leaf["childrenUrl"])

	flat := h.list(h.do(token, http.MethodGet, base, nil))
	require.Len(t, flat, 4)
	assert.Equal(t, float64(a), flat[0]["id"])
	assert.Equal(t, float64(d), flat[3]["id"])

	nested := h.list(h.do(token, http.MethodGet, base+"?tree=true", nil))
	require.Len(t, nested, 2)
	assert.Equal(t, float64(a), nested[0]["id"])
	children := nested[0]["children"].([]any)
	require.Len(t, children, 1)
	grandchildren := children[0].(map[string]any)["children"].([]any)
	require.Len(t, grandchildren, 1)
	assert.Equal(t, float64(c), grandchildren[0].(map[string]any)["id"])

	self := h.object(h.do(token, http.MethodPatch, fmt.Sprintf("%s/%d", base, a), map[string]any{"parent": a}), http.StatusUnprocessableEntity)
	assert.Equal(t, []any{"parent cannot be the object itself"}, fieldErrors(t, self, "parent"))

	cycle := h.object(h.do(token, http.MethodPatch, fmt.Sprintf("%s/%d", base, a), map[string]any{"parent": c}), http.StatusUnprocessableEntity)
	fieldErrors(t, cycle, "parent")

	stored := h.object(h.do(token, http.MethodGet, fmt.Sprintf("%s/%d", base, a), nil), http.StatusOK)
	assert.Nil(t, stored["parent"])

	moved := h.object(h.do(token, http.MethodPut, fmt.Sprintf("%s/%d", base, c), map[string]any{"parent": nil}), http.StatusOK)
	assert.Nil(t, moved["parent"])
	assert.Equal(t, "C", moved["name"])

	assert.Equal(t, http.StatusNoContent, h.do(token, http.MethodDelete, fmt.Sprintf("%s/%d", base, a), nil).Code)
	remaining := h.list(h.do(token, http.MethodGet, base, nil))
	require.Len(t, remaining, 2)
	assert.Equal(t, float64(c), remaining[0]["id"])
	assert.Equal(t, float64(d), remaining[1]["id"])
}

func TestCategoryParentMustShareWorkspace(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)
	first := h.create(token, "/api/workspace", map[string]any{"name": "One"})
	second := h.create(token, "/api/workspace", map[string]any{"name": "Two"})
	foreign := h.create(token, fmt.Sprintf("/api/workspace/%d/category", second), map[string]any{"name": "Elsewhere"})

	out := h.object(h.do(token, http.MethodPost, fmt.Sprintf("/api/workspace/%d/category", first), map[string]any{
		"name": "Here", "parent": foreign,
	}), http.StatusUnprocessableEntity)
	assert.Equal(t, []any{"parent must belong to the same workspace"}, fieldErrors(t, out, "parent"))

	missing := h.object(h.do(token, http.MethodPost, fmt.Sprintf("/api/workspace/%d/category", first), map[string]any{
		"name": "Here", "parent": 9999,
	}), http.StatusUnprocessableEntity)
	fieldErrors(t, missing, "parent")

	// same name in another workspace is accepted
	h.create(token, fmt.Sprintf("/api/workspace/%d/category", first), map[string]any{"name": "elsewhere"})
}

func TestPathSegmentsMustBelongTogether(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)
	first := h.create(token, "/api/workspace", map[string]any{"name": "One"})
	second := h.create(token, "/api/workspace", map[string]any{"name": "Two"})
	category := h.create(token, fmt.Sprintf("/api/workspace/%d/category", first), map[string]any{"name": "Work"})
	project := h.create(token, fmt.Sprintf("/api/workspace/%d/category/%d/project", first, category), map[string]any{"title": "Launch"})
	loose := h.create(token, fmt.Sprintf("/api/workspace/%d/category/%d/task", first, category), map[string]any{"title": "Loose"})

	paths := []string{
		fmt.Sprintf("/api/workspace/%d/category/%d", second, category),
		fmt.Sprintf("/api/workspace/%d/category/%d/project/%d", second, category, project),
		fmt.Sprintf("/api/workspace/%d/category/%d/project/%d/task/%d", first, category, project, loose),
		fmt.Sprintf("/api/workspace/%d/category/%d/comment", second, category),
		fmt.Sprintf("/api/workspace/%d/bogus", first),
		fmt.Sprintf("/api/workspace/%d/tag/abc", first),
	}
	for _, path := range paths {
		assert.Equal(t, http.StatusNotFound, h.do(token, http.MethodGet, path, nil).Code, path)
	}
}

func TestOwnershipAndAdminAccess(t *testing.T) {
	h := newHarness(t)
	owner := h.login("owner", false)
	other := h.login("other", false)
	admin := h.login("admin", true)
	ws := h.create(owner, "/api/workspace", map[string]any{"name": "Private"})
	path := fmt.Sprintf("/api/workspace/%d", ws)

	assert.Equal(t, http.StatusNotFound, h.do(other, http.MethodGet, path, nil).Code)
	assert.Empty(t, h.list(h.do(other, http.MethodGet, "/api/workspace", nil)))

	renamed := h.object(h.do(admin, http.MethodPatch, path, map[string]any{"name": "Audited"}), http.StatusOK)
	assert.Equal(t, "Audited", renamed["name"])

	users := h.list(h.do(other, http.MethodGet, "/api/users", nil))
	require.Len(t, users, 1)
	assert.Equal(t, "other", users[0]["username"])
	assert.Len(t, h.list(h.do(admin, http.MethodGet, "/api/users", nil)), 3)
	assert.Equal(t, http.StatusNotFound, h.do(other, http.MethodGet, fmt.Sprintf("/api/users/%v", users[0]["id"].(float64)-1), nil).Code)
}

func TestWorkItemPartialUpdates(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)
	ws := h.create(token, "/api/workspace", map[string]any{"name": "Home"})
	category := h.create(token, fmt.Sprintf("/api/workspace/%d/category", ws), map[string]any{"name": "Work"})
	status := h.create(token, fmt.Sprintf("/api/workspace/%d/status", ws), map[string]any{"name": "Open"})
	tasks := fmt.Sprintf("/api/workspace/%d/category/%d/task", ws, category)

	created := h.object(h.do(token, http.MethodPost, tasks, map[string]any{
		"title":              "Write report",
		"status":             status,
		"estimatedEffort":    2.5,
		"estimatedStartDate": "2026-03-01",
	}), http.StatusCreated)
	id := int64(created["id"].(float64))
	assert.Equal(t, true, created["isVisible"])
	assert.Equal(t, "2026-03-01", created["estimatedStartDate"])
	assert.NotEmpty(t, created["uuid"])
	assert.Equal(t, fmt.Sprintf("%s/workspace/%d/category/%d/task/%d/comment", testBase, ws, category, id), created["commentList"])

	member := fmt.Sprintf("%s/%d", tasks, id)
	updated := h.object(h.do(token, http.MethodPatch, member, map[string]any{"title": "Write final report"}), http.StatusOK)
	assert.Equal(t, "Write final report", updated["title"])
	assert.Equal(t, 2.5, updated["estimatedEffort"])
	assert.Equal(t, float64(status), updated["status"])

	cleared := h.object(h.do(token, http.MethodPatch, member, map[string]any{"status": nil, "estimatedStartDate": nil}), http.StatusOK)
	assert.Nil(t, cleared["status"])
	assert.Nil(t, cleared["estimatedStartDate"])

	badDate := h.object(h.do(token, http.MethodPatch, member, map[string]any{"actualEndDate": "03/01/2026"}), http.StatusUnprocessableEntity)
	fieldErrors(t, badDate, "actualEndDate")

	negative := h.object(h.do(token, http.MethodPatch, member, map[string]any{"actualEffort": -1}), http.StatusUnprocessableEntity)
	fieldErrors(t, negative, "actualEffort")

	unknownStatus := h.object(h.do(token, http.MethodPatch, member, map[string]any{"status": 9999}), http.StatusUnprocessableEntity)
	fieldErrors(t, unknownStatus, "status")

	archived := h.object(h.do(token, http.MethodPatch, member, map[string]any{"isVisible": false}), http.StatusOK)
	assert.Equal(t, false, archived["isVisible"])
	assert.Empty(t, h.list(h.do(token, http.MethodGet, tasks, nil)))
	assert.Len(t, h.list(h.do(token, http.MethodGet, tasks+"?archived=true", nil)), 1)

	indexed := h.search.items["task:"+search.ItemKey(id)]
	assert.Equal(t, "Write final report", indexed.Title)
	assert.False(t, indexed.IsVisible)
}

func TestTasksBelowProjectPath(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)
	ws := h.create(token, "/api/workspace", map[string]any{"name": "Home"})
	category := h.create(token, fmt.Sprintf("/api/workspace/%d/category", ws), map[string]any{"name": "Work"})
	projects := fmt.Sprintf("/api/workspace/%d/category/%d/project", ws, category)
	project := h.create(token, projects, map[string]any{"title": "Launch"})
	sub := h.create(token, projects, map[string]any{"title": "Docs", "parent": project})

	projectTasks := fmt.Sprintf("%s/%d/task", projects, project)
	task := h.object(h.do(token, http.MethodPost, projectTasks, map[string]any{"title": "Ship"}), http.StatusCreated)
	assert.Equal(t, float64(project), task["project"])
	assert.Equal(t, fmt.Sprintf("%s/workspace/%d/category/%d/project/%d", testBase, ws, category, project), task["projectUrl"])
	h.create(token, fmt.Sprintf("/api/workspace/%d/category/%d/task", ws, category), map[string]any{"title": "Unfiled"})

	listed := h.list(h.do(token, http.MethodGet, projectTasks, nil))
	require.Len(t, listed, 1)
	assert.Equal(t, "Ship", listed[0]["title"])

	taskPath := fmt.Sprintf("%s/%v", projectTasks, task["id"])
	unfiled := h.object(h.do(token, http.MethodPatch, taskPath, map[string]any{"project": nil}), http.StatusUnprocessableEntity)
	assert.Equal(t, []any{"project must match the project in the path"}, fieldErrors(t, unfiled, "project"))
	moved := h.object(h.do(token, http.MethodPost, projectTasks, map[string]any{"title": "Stray", "project": sub}), http.StatusUnprocessableEntity)
	fieldErrors(t, moved, "project")
	same := h.object(h.do(token, http.MethodPatch, taskPath, map[string]any{"project": project}), http.StatusOK)
	assert.Equal(t, float64(project), same["project"])

	launch := h.object(h.do(token, http.MethodGet, fmt.Sprintf("%s/%d", projects, project), nil), http.StatusOK)
	assert.Equal(t, testBase+projectTasks[len("/api"):], launch["taskList"])
	assert.Contains(t, launch["childrenUrl"], fmt.Sprint(sub))

	assert.Equal(t, http.StatusNoContent, h.do(token, http.MethodDelete, fmt.Sprintf("%s/%d", projects, project), nil).Code)
	assert.ElementsMatch(t, []string{search.ItemKey(project), search.ItemKey(sub)}, h.search.forgotten[search.ResultProject])
	assert.Equal(t, []string{search.ItemKey(int64(task["id"].(float64)))}, h.search.forgotten[search.ResultTask])
	assert.Len(t, h.list(h.do(token, http.MethodGet, fmt.Sprintf("/api/workspace/%d/category/%d/task", ws, category), nil)), 1)
}

func TestCommentThreads(t *testing.T) {
	h := newHarness(t)
	owner := h.login("owner", false)
	admin := h.login("admin", true)
	ws := h.create(owner, "/api/workspace", map[string]any{"name": "Home"})
	category := h.create(owner, fmt.Sprintf("/api/workspace/%d/category", ws), map[string]any{"name": "Work"})
	task := h.create(owner, fmt.Sprintf("/api/workspace/%d/category/%d/task", ws, category), map[string]any{"title": "Ship"})
	other := h.create(owner, fmt.Sprintf("/api/workspace/%d/category/%d/task", ws, category), map[string]any{"title": "Other"})

	comments := fmt.Sprintf("/api/workspace/%d/category/%d/task/%d/comment", ws, category, task)
	root := h.create(owner, comments, map[string]any{"content": "first"})
	reply := h.object(h.do(owner, http.MethodPost, comments, map[string]any{"content": "reply", "parent": root}), http.StatusCreated)
	replyID := int64(reply["id"].(float64))
	assert.Equal(t, fmt.Sprintf("%s%s/%d", testBase, comments[len("/api"):], root), reply["parentUrl"])

	otherThread := fmt.Sprintf("/api/workspace/%d/category/%d/task/%d/comment", ws, category, other)
	crossed := h.object(h.do(owner, http.MethodPost, otherThread, map[string]any{"content": "x", "parent": root}), http.StatusUnprocessableEntity)
	assert.Equal(t, []any{"parent must belong to the same task"}, fieldErrors(t, crossed, "parent"))
	assert.Equal(t, http.StatusNotFound, h.do(owner, http.MethodGet, fmt.Sprintf("%s/%d", otherThread, root), nil).Code)

	empty := h.object(h.do(owner, http.MethodPost, comments, map[string]any{"content": "  "}), http.StatusUnprocessableEntity)
	fieldErrors(t, empty, "content")

	record := h.search.comments[search.CommentKey(search.OnTask, replyID)]
	assert.Equal(t, ws, record.WorkspaceID)
	assert.Equal(t, category, record.CategoryID)
	assert.Equal(t, task, record.ScopeID)

	edited := h.object(h.do(admin, http.MethodPut, fmt.Sprintf("%s/%d", comments, replyID), map[string]any{"content": "edited"}), http.StatusOK)
	assert.Equal(t, "edited", edited["content"])
	assert.Equal(t, float64(root), edited["parent"])

	assert.Equal(t, http.StatusNoContent, h.do(owner, http.MethodDelete, fmt.Sprintf("%s/%d", comments, root), nil).Code)
	assert.Empty(t, h.list(h.do(owner, http.MethodGet, comments, nil)))
	assert.ElementsMatch(t, []string{
		search.CommentKey(search.OnTask, root),
		search.CommentKey(search.OnTask, replyID),
	}, h.search.forgotten[search.ResultComment])
}

func TestSearchEndpoint(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)

	missing := h.object(h.do(token, http.MethodGet, "/api/search", nil), http.StatusUnprocessableEntity)
	fieldErrors(t, missing, "q")

	badType := h.object(h.do(token, http.MethodGet, "/api/search?q=x&type=user", nil), http.StatusUnprocessableEntity)
	fieldErrors(t, badType, "type")

	h.search.results = []search.Result{
		{Type: search.ResultTask, ID: 7, ScopeID: 7, WorkspaceID: 1, CategoryID: 2, Title: "Ship"},
		{Type: search.ResultComment, ID: 9, CommentOn: search.OnProject, ScopeID: 3, WorkspaceID: 1, CategoryID: 2, Title: "note"},
	}
	out := h.object(h.do(token, http.MethodGet, "/api/search?q=ship&workspace=1", nil), http.StatusOK)
	results := out["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, testBase+"/workspace/1/category/2/task/7", results[0].(map[string]any)["url"])
	assert.Equal(t, testBase+"/workspace/1/category/2/project/3/comment/9", results[1].(map[string]any)["url"])
	assert.Equal(t, int64(1), h.search.lastQuery.WorkspaceID)
	assert.False(t, h.search.lastQuery.Admin)
	assert.Equal(t, 20, h.search.lastQuery.Limit)
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		path string
		want route
		ok   bool
	}{
		{path: "workspace", want: route{Name: "workspace"}, ok: true},
		{path: "workspace/3", want: route{Name: "workspace", ID: 3}, ok: true},
		{path: "workspace/3/tag/4", want: route{Scope: Scope{Workspace: 3}, Name: "tag", ID: 4}, ok: true},
		{path: "workspace/3/category/5/project", want: route{Scope: Scope{Workspace: 3, Category: 5}, Name: "project"}, ok: true},
		{path: "workspace/3/category/5/project/6/task/7", want: route{Scope: Scope{Workspace: 3, Category: 5, Project: 6}, Name: "task", ID: 7}, ok: true},
		{path: "workspace/3/category/5/task/8/comment", want: route{Scope: Scope{Workspace: 3, Category: 5, Task: 8}, Name: "comment"}, ok: true},
		{path: "workspace/3/project/6", ok: false},
		{path: "workspace/3/comment/1/comment", ok: false},
		{path: "workspace/0", ok: false},
		{path: "workspace/3/category/-1", ok: false},
		{path: "workspaces", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := parseRoute(splitPath(tt.path))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	token := h.login("avery", false)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(token, http.MethodDelete, "/api/workspace", nil).Code)
}
