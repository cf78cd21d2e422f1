package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/tree"
)

// fakeStore keeps every table in memory and runs the same tree rules as the
// Postgres store.
type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	pingErr    error
	users      map[int64]store.User
	workspaces map[int64]store.Workspace
	labels     map[store.LabelKind]map[int64]store.Label
	categories map[int64]store.Category
	comments   map[store.CommentKind]map[int64]store.Comment
	items      map[store.ItemKind]map[int64]store.WorkItem
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		users:      map[int64]store.User{},
		workspaces: map[int64]store.Workspace{},
		labels:     map[store.LabelKind]map[int64]store.Label{},
		categories: map[int64]store.Category{},
		comments:   map[store.CommentKind]map[int64]store.Comment{},
		items:      map[store.ItemKind]map[int64]store.WorkItem{},
	}
	for _, kind := range []store.LabelKind{store.LabelTag, store.LabelPriority, store.LabelStatus} {
		f.labels[kind] = map[int64]store.Label{}
	}
	for _, kind := range store.CommentKinds {
		f.comments[kind] = map[int64]store.Comment{}
	}
	f.items[store.Projects] = map[int64]store.WorkItem{}
	f.items[store.Tasks] = map[int64]store.WorkItem{}
	return f
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func visible(viewer store.Viewer, createdBy int64) bool {
	return viewer.Admin || viewer.UserID == createdBy
}

func sortedValues[T any](m map[int64]T, keep func(T) bool) []T {
	ids := make([]int64, 0, len(m))
	for id, v := range m {
		if keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// validateNode checks parents as viewer sees them and walks ancestors
// across every owner, like the Postgres store.
func validateNode[T any](ctx context.Context, kind tree.Kind, m map[int64]T, ref tree.RefFunc[T], viewer store.Viewer, owner func(T) int64, node T) error {
	return tree.ValidateWith(ctx, kind, ref(node),
		refLookup(m, ref, viewer, owner),
		refLookup(m, ref, store.Viewer{Admin: true}, owner))
}

func refLookup[T any](m map[int64]T, ref tree.RefFunc[T], viewer store.Viewer, owner func(T) int64) tree.Lookup {
	return func(_ context.Context, id int64) (tree.Ref, bool, error) {
		node, ok := m[id]
		if !ok || !visible(viewer, owner(node)) {
			return tree.Ref{}, false, nil
		}
		return ref(node), true, nil
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.User{}, &store.UniquenessError{Entity: "user", Field: "email"}
		}
	}
	user.ID = f.id()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, &store.NotFoundError{Entity: "user", ID: id}
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, &store.NotFoundError{Entity: "user"}
}

func (f *fakeStore) ListUsers(_ context.Context, viewer store.Viewer) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.users, func(u store.User) bool { return visible(viewer, u.ID) }), nil
}

func (f *fakeStore) ListWorkspaces(_ context.Context, viewer store.Viewer) ([]store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.workspaces, func(w store.Workspace) bool { return visible(viewer, w.CreatedBy) }), nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, viewer store.Viewer, id int64) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[id]
	if !ok || !visible(viewer, ws.CreatedBy) {
		return store.Workspace{}, &store.NotFoundError{Entity: "workspace", ID: id}
	}
	return ws, nil
}

func (f *fakeStore) workspaceNameTaken(ws store.Workspace) bool {
	for _, other := range f.workspaces {
		if other.ID != ws.ID && other.CreatedBy == ws.CreatedBy && strings.EqualFold(other.Name, ws.Name) {
			return true
		}
	}
	return false
}

func (f *fakeStore) CreateWorkspace(_ context.Context, ws store.Workspace) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.workspaceNameTaken(ws) {
		return store.Workspace{}, &store.UniquenessError{Entity: "workspace", Field: "name"}
	}
	ws.ID = f.id()
	ws.CreatedAt = time.Now()
	ws.UpdatedAt = ws.CreatedAt
	f.workspaces[ws.ID] = ws
	return ws, nil
}

func (f *fakeStore) UpdateWorkspace(_ context.Context, viewer store.Viewer, ws store.Workspace) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.workspaces[ws.ID]
	if !ok || !visible(viewer, current.CreatedBy) {
		return store.Workspace{}, &store.NotFoundError{Entity: "workspace", ID: ws.ID}
	}
	if f.workspaceNameTaken(ws) {
		return store.Workspace{}, &store.UniquenessError{Entity: "workspace", Field: "name"}
	}
	ws.UpdatedAt = time.Now()
	f.workspaces[ws.ID] = ws
	return ws, nil
}

func (f *fakeStore) DeleteWorkspace(_ context.Context, viewer store.Viewer, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[id]
	if !ok || !visible(viewer, ws.CreatedBy) {
		return &store.NotFoundError{Entity: "workspace", ID: id}
	}
	delete(f.workspaces, id)
	for _, labels := range f.labels {
		for labelID, l := range labels {
			if l.WorkspaceID == id {
				delete(labels, labelID)
			}
		}
	}
	for categoryID, c := range f.categories {
		if c.WorkspaceID == id {
			f.removeCategory(categoryID)
		}
	}
	f.removeComments(store.WorkspaceComments, func(c store.Comment) bool { return c.ScopeID == id })
	return nil
}

func (f *fakeStore) ListLabels(_ context.Context, viewer store.Viewer, kind store.LabelKind, workspaceID int64) ([]store.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.labels[kind], func(l store.Label) bool {
		return l.WorkspaceID == workspaceID && visible(viewer, l.CreatedBy)
	}), nil
}

func (f *fakeStore) GetLabel(_ context.Context, viewer store.Viewer, kind store.LabelKind, id int64) (store.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.labels[kind][id]
	if !ok || !visible(viewer, l.CreatedBy) {
		return store.Label{}, &store.NotFoundError{Entity: string(kind), ID: id}
	}
	return l, nil
}

func (f *fakeStore) labelNameTaken(l store.Label) bool {
	for _, other := range f.labels[l.Kind] {
		if other.ID != l.ID && other.WorkspaceID == l.WorkspaceID && strings.EqualFold(other.Name, l.Name) {
			return true
		}
	}
	return false
}

func (f *fakeStore) CreateLabel(_ context.Context, _ store.Viewer, l store.Label) (store.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labelNameTaken(l) {
		return store.Label{}, &store.UniquenessError{Entity: string(l.Kind), Field: "name"}
	}
	l.ID = f.id()
	f.labels[l.Kind][l.ID] = l
	return l, nil
}

func (f *fakeStore) UpdateLabel(_ context.Context, _ store.Viewer, l store.Label) (store.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labelNameTaken(l) {
		return store.Label{}, &store.UniquenessError{Entity: string(l.Kind), Field: "name"}
	}
	f.labels[l.Kind][l.ID] = l
	return l, nil
}

func (f *fakeStore) DeleteLabel(_ context.Context, _ store.Viewer, kind store.LabelKind, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.labels[kind], id)
	return nil
}

func (f *fakeStore) ListCategories(_ context.Context, viewer store.Viewer, workspaceID int64) ([]store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.categories, func(c store.Category) bool {
		return c.WorkspaceID == workspaceID && visible(viewer, c.CreatedBy)
	}), nil
}

func (f *fakeStore) GetCategory(_ context.Context, viewer store.Viewer, id int64) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.categories[id]
	if !ok || !visible(viewer, c.CreatedBy) {
		return store.Category{}, &store.NotFoundError{Entity: "category", ID: id}
	}
	return c, nil
}

func (f *fakeStore) checkCategory(ctx context.Context, viewer store.Viewer, c store.Category) error {
	if err := validateNode(ctx, tree.Category, f.categories, store.CategoryRef, viewer, func(c store.Category) int64 { return c.CreatedBy }, c); err != nil {
		return err
	}
	for _, other := range f.categories {
		if other.ID != c.ID && other.WorkspaceID == c.WorkspaceID && strings.EqualFold(other.Name, c.Name) {
			return &store.UniquenessError{Entity: "category", Field: "name"}
		}
	}
	return nil
}

func (f *fakeStore) CreateCategory(ctx context.Context, viewer store.Viewer, c store.Category) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = 0
	if err := f.checkCategory(ctx, viewer, c); err != nil {
		return store.Category{}, err
	}
	c.ID = f.id()
	f.categories[c.ID] = c
	return c, nil
}

func (f *fakeStore) UpdateCategory(ctx context.Context, viewer store.Viewer, c store.Category) (store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkCategory(ctx, viewer, c); err != nil {
		return store.Category{}, err
	}
	f.categories[c.ID] = c
	return c, nil
}

func (f *fakeStore) DeleteCategory(_ context.Context, _ store.Viewer, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCategory(id)
	return nil
}

// removeCategory cascades like the foreign keys do.
func (f *fakeStore) removeCategory(id int64) {
	if _, ok := f.categories[id]; !ok {
		return
	}
	delete(f.categories, id)
	for childID, c := range f.categories {
		if c.ParentID != nil && *c.ParentID == id {
			f.removeCategory(childID)
		}
	}
	for _, kind := range []store.ItemKind{store.Projects, store.Tasks} {
		for itemID, w := range f.items[kind] {
			if w.CategoryID == id {
				f.removeItem(kind, itemID)
			}
		}
	}
	f.removeComments(store.CategoryComments, func(c store.Comment) bool { return c.ScopeID == id })
}

func (f *fakeStore) ListComments(_ context.Context, viewer store.Viewer, kind store.CommentKind, scopeID int64) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.comments[kind], func(c store.Comment) bool {
		return c.ScopeID == scopeID && visible(viewer, c.CreatedBy)
	}), nil
}

func (f *fakeStore) GetComment(_ context.Context, viewer store.Viewer, kind store.CommentKind, id int64) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[kind][id]
	if !ok || !visible(viewer, c.CreatedBy) {
		return store.Comment{}, &store.NotFoundError{Entity: kind.Tree.Name, ID: id}
	}
	return c, nil
}

func (f *fakeStore) CreateComment(ctx context.Context, viewer store.Viewer, kind store.CommentKind, c store.Comment) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = 0
	if err := validateNode(ctx, kind.Tree, f.comments[kind], store.CommentRef, viewer, func(c store.Comment) int64 { return c.CreatedBy }, c); err != nil {
		return store.Comment{}, err
	}
	c.ID = f.id()
	f.comments[kind][c.ID] = c
	return c, nil
}

func (f *fakeStore) UpdateComment(ctx context.Context, viewer store.Viewer, kind store.CommentKind, c store.Comment) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := validateNode(ctx, kind.Tree, f.comments[kind], store.CommentRef, viewer, func(c store.Comment) int64 { return c.CreatedBy }, c); err != nil {
		return store.Comment{}, err
	}
	f.comments[kind][c.ID] = c
	return c, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, _ store.Viewer, kind store.CommentKind, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeComment(kind, id)
	return nil
}

func (f *fakeStore) removeComment(kind store.CommentKind, id int64) {
	if _, ok := f.comments[kind][id]; !ok {
		return
	}
	delete(f.comments[kind], id)
	for replyID, c := range f.comments[kind] {
		if c.ParentID != nil && *c.ParentID == id {
			f.removeComment(kind, replyID)
		}
	}
}

func (f *fakeStore) removeComments(kind store.CommentKind, match func(store.Comment) bool) {
	for id, c := range f.comments[kind] {
		if match(c) {
			delete(f.comments[kind], id)
		}
	}
}

func (f *fakeStore) ListWorkItems(_ context.Context, viewer store.Viewer, kind store.ItemKind, filter store.ItemFilter) ([]store.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.items[kind], func(w store.WorkItem) bool {
		if w.CategoryID != filter.CategoryID || !visible(viewer, w.CreatedBy) || w.IsVisible == filter.Archived {
			return false
		}
		if filter.ProjectID != nil && (w.ProjectID == nil || *w.ProjectID != *filter.ProjectID) {
			return false
		}
		return true
	}), nil
}

func (f *fakeStore) GetWorkItem(_ context.Context, viewer store.Viewer, kind store.ItemKind, id int64) (store.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[kind][id]
	if !ok || !visible(viewer, w.CreatedBy) {
		return store.WorkItem{}, &store.NotFoundError{Entity: kind.Tree.Name, ID: id}
	}
	return w, nil
}

func (f *fakeStore) checkWorkItem(ctx context.Context, viewer store.Viewer, kind store.ItemKind, w store.WorkItem) error {
	if w.ProjectID != nil {
		project, ok := f.items[store.Projects][*w.ProjectID]
		if !ok || project.CategoryID != w.CategoryID || !visible(viewer, project.CreatedBy) {
			return &store.NotFoundError{Entity: "project", ID: *w.ProjectID, Field: "project"}
		}
	}
	if w.StatusID != nil {
		if l, ok := f.labels[store.LabelStatus][*w.StatusID]; !ok || l.WorkspaceID != w.WorkspaceID {
			return &store.NotFoundError{Entity: "status", ID: *w.StatusID, Field: "status"}
		}
	}
	return validateNode(ctx, kind.Tree, f.items[kind], store.WorkItemRef, viewer, func(w store.WorkItem) int64 { return w.CreatedBy }, w)
}

func (f *fakeStore) CreateWorkItem(ctx context.Context, viewer store.Viewer, kind store.ItemKind, w store.WorkItem) (store.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	category, ok := f.categories[w.CategoryID]
	if !ok {
		return store.WorkItem{}, &store.NotFoundError{Entity: "category", ID: w.CategoryID}
	}
	w.ID = 0
	w.WorkspaceID = category.WorkspaceID
	if err := f.checkWorkItem(ctx, viewer, kind, w); err != nil {
		return store.WorkItem{}, err
	}
	w.ID = f.id()
	w.UUID = fmt.Sprintf("00000000-0000-4000-8000-%012d", w.ID)
	f.items[kind][w.ID] = w
	return w, nil
}

func (f *fakeStore) UpdateWorkItem(ctx context.Context, viewer store.Viewer, kind store.ItemKind, w store.WorkItem) (store.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.items[kind][w.ID]
	if !ok {
		return store.WorkItem{}, &store.NotFoundError{Entity: kind.Tree.Name, ID: w.ID}
	}
	w.WorkspaceID, w.CategoryID, w.UUID = current.WorkspaceID, current.CategoryID, current.UUID
	if err := f.checkWorkItem(ctx, viewer, kind, w); err != nil {
		return store.WorkItem{}, err
	}
	f.items[kind][w.ID] = w
	return w, nil
}

func (f *fakeStore) DeleteWorkItem(_ context.Context, _ store.Viewer, kind store.ItemKind, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeItem(kind, id)
	return nil
}

func (f *fakeStore) removeItem(kind store.ItemKind, id int64) {
	if _, ok := f.items[kind][id]; !ok {
		return
	}
	delete(f.items[kind], id)
	for childID, w := range f.items[kind] {
		if w.ParentID != nil && *w.ParentID == id {
			f.removeItem(kind, childID)
		}
	}
	if kind == store.Projects {
		for taskID, w := range f.items[store.Tasks] {
			if w.ProjectID != nil && *w.ProjectID == id {
				f.removeItem(store.Tasks, taskID)
			}
		}
		f.removeComments(store.ProjectComments, func(c store.Comment) bool { return c.ScopeID == id })
		return
	}
	f.removeComments(store.TaskComments, func(c store.Comment) bool { return c.ScopeID == id })
}

type fakeSessions struct {
	mu      sync.Mutex
	refresh map[string]int64
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]int64{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash string, userID int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[hash]
	if !ok {
		return store.User{}, &store.NotFoundError{Entity: "session"}
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeSearcher struct {
	mu        sync.Mutex
	status    string
	results   []search.Result
	lastQuery search.Query
	items     map[string]search.ItemRecord
	comments  map[string]search.CommentRecord
	forgotten map[search.ResultType][]string
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{
		status:    "ok",
		items:     map[string]search.ItemRecord{},
		comments:  map[string]search.CommentRecord{},
		forgotten: map[search.ResultType][]string{},
	}
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return search.Response{Results: f.results, Total: len(f.results), Query: q.Text, Backend: "fake"}
}

func (f *fakeSearcher) IndexItem(t search.ResultType, rec search.ItemRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[string(t)+":"+rec.Key] = rec
}

func (f *fakeSearcher) IndexComment(rec search.CommentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[rec.Key] = rec
}

func (f *fakeSearcher) Forget(t search.ResultType, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten[t] = append(f.forgotten[t], keys...)
}

func (f *fakeSearcher) PrimaryStatus() string { return f.status }
