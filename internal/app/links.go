package app

import (
	"fmt"

	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
)

// links builds absolute resource URLs. base already ends in /api.
type links struct {
	base string
}

func (l links) user(id int64) string {
	return fmt.Sprintf("%s/users/%d", l.base, id)
}

func (l links) workspaces() string {
	return l.base + "/workspace"
}

func (l links) workspace(id int64) string {
	return fmt.Sprintf("%s/workspace/%d", l.base, id)
}

func (l links) labels(workspaceID int64, kind store.LabelKind) string {
	return fmt.Sprintf("%s/%s", l.workspace(workspaceID), kind)
}

func (l links) label(workspaceID int64, kind store.LabelKind, id int64) string {
	return fmt.Sprintf("%s/%d", l.labels(workspaceID, kind), id)
}

func (l links) categories(workspaceID int64) string {
	return l.workspace(workspaceID) + "/category"
}

func (l links) category(workspaceID, id int64) string {
	return fmt.Sprintf("%s/%d", l.categories(workspaceID), id)
}

func (l links) items(workspaceID, categoryID int64, kind store.ItemKind) string {
	return fmt.Sprintf("%s/%s", l.category(workspaceID, categoryID), kind.Tree.Name)
}

func (l links) item(workspaceID, categoryID int64, kind store.ItemKind, id int64) string {
	return fmt.Sprintf("%s/%d", l.items(workspaceID, categoryID, kind), id)
}

// projectTasks lists the tasks filed under one project.
func (l links) projectTasks(workspaceID, categoryID, projectID int64) string {
	return l.item(workspaceID, categoryID, store.Projects, projectID) + "/task"
}

// owner is the URL of the object a scope path points at.
func (l links) owner(scope Scope) string {
	switch {
	case scope.Task != 0:
		return l.item(scope.Workspace, scope.Category, store.Tasks, scope.Task)
	case scope.Project != 0:
		return l.item(scope.Workspace, scope.Category, store.Projects, scope.Project)
	case scope.Category != 0:
		return l.category(scope.Workspace, scope.Category)
	default:
		return l.workspace(scope.Workspace)
	}
}

func (l links) comments(scope Scope) string {
	return l.owner(scope) + "/comment"
}

func (l links) comment(scope Scope, id int64) string {
	return fmt.Sprintf("%s/%d", l.comments(scope), id)
}

func (l links) searchResult(r search.Result) string {
	switch r.Type {
	case search.ResultProject:
		return l.item(r.WorkspaceID, r.CategoryID, store.Projects, r.ID)
	case search.ResultTask:
		return l.item(r.WorkspaceID, r.CategoryID, store.Tasks, r.ID)
	}
	scope := Scope{Workspace: r.WorkspaceID}
	switch r.CommentOn {
	case search.OnCategory:
		scope.Category = r.ScopeID
	case search.OnProject:
		scope.Category, scope.Project = r.CategoryID, r.ScopeID
	case search.OnTask:
		scope.Category, scope.Task = r.CategoryID, r.ScopeID
	}
	return l.comment(scope, r.ID)
}
