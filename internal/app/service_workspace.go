package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
)

// Scope is the ancestry named by a resource path. Zero fields are absent.
type Scope struct {
	Workspace int64
	Category  int64
	Project   int64
	Task      int64
}

// commentKind picks the comment table owned by the innermost scope.
func (sc Scope) commentKind() (store.CommentKind, int64, string) {
	switch {
	case sc.Task != 0:
		return store.TaskComments, sc.Task, search.OnTask
	case sc.Project != 0:
		return store.ProjectComments, sc.Project, search.OnProject
	case sc.Category != 0:
		return store.CategoryComments, sc.Category, search.OnCategory
	default:
		return store.WorkspaceComments, sc.Workspace, search.OnWorkspace
	}
}

type resolvedScope struct {
	workspace store.Workspace
	category  store.Category
	project   store.WorkItem
	task      store.WorkItem
}

// resolveScope loads every segment of sc and checks that each belongs to
// the one before it. Any mismatch is reported as not found.
func (s *Service) resolveScope(ctx context.Context, actor Actor, sc Scope) (resolvedScope, error) {
	var r resolvedScope
	viewer := actor.viewer()

	ws, err := s.store.GetWorkspace(ctx, viewer, sc.Workspace)
	if err != nil {
		return r, err
	}
	r.workspace = ws
	if sc.Category == 0 {
		return r, nil
	}

	category, err := s.store.GetCategory(ctx, viewer, sc.Category)
	if err != nil {
		return r, err
	}
	if category.WorkspaceID != ws.ID {
		return r, notFoundError()
	}
	r.category = category

	if sc.Project != 0 {
		project, err := s.store.GetWorkItem(ctx, viewer, store.Projects, sc.Project)
		if err != nil {
			return r, err
		}
		if project.CategoryID != category.ID {
			return r, notFoundError()
		}
		r.project = project
	}
	if sc.Task != 0 {
		task, err := s.store.GetWorkItem(ctx, viewer, store.Tasks, sc.Task)
		if err != nil {
			return r, err
		}
		if task.CategoryID != category.ID {
			return r, notFoundError()
		}
		if sc.Project != 0 && (task.ProjectID == nil || *task.ProjectID != sc.Project) {
			return r, notFoundError()
		}
		r.task = task
	}
	return r, nil
}

func (s *Service) ListWorkspaces(ctx context.Context, actor Actor) ([]map[string]any, error) {
	workspaces, err := s.store.ListWorkspaces(ctx, actor.viewer())
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(workspaces))
	for _, ws := range workspaces {
		items = append(items, s.workspacePayload(ws))
	}
	return items, nil
}

func (s *Service) GetWorkspace(ctx context.Context, actor Actor, id int64) (map[string]any, error) {
	ws, err := s.store.GetWorkspace(ctx, actor.viewer(), id)
	if err != nil {
		return nil, err
	}
	return s.workspacePayload(ws), nil
}

func (s *Service) CreateWorkspace(ctx context.Context, actor Actor, input WorkspaceInput) (map[string]any, error) {
	ws := store.Workspace{CreatedBy: actor.UserID}
	if err := applyWorkspace(&ws, input, true); err != nil {
		return nil, err
	}
	created, err := s.store.CreateWorkspace(ctx, ws)
	if err != nil {
		return nil, err
	}
	s.logger.Info("workspace created", zap.Int64("workspace_id", created.ID), zap.Int64("user_id", actor.UserID))
	return s.workspacePayload(created), nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, actor Actor, id int64, input WorkspaceInput) (map[string]any, error) {
	current, err := s.store.GetWorkspace(ctx, actor.viewer(), id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current.CreatedBy); err != nil {
		return nil, err
	}
	if err := applyWorkspace(&current, input, false); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateWorkspace(ctx, actor.viewer(), current)
	if err != nil {
		return nil, err
	}
	return s.workspacePayload(updated), nil
}

func (s *Service) DeleteWorkspace(ctx context.Context, actor Actor, id int64) error {
	current, err := s.store.GetWorkspace(ctx, actor.viewer(), id)
	if err != nil {
		return err
	}
	if err := authorize(actor, current.CreatedBy); err != nil {
		return err
	}
	if err := s.store.DeleteWorkspace(ctx, actor.viewer(), id); err != nil {
		return err
	}
	s.logger.Info("workspace deleted", zap.Int64("workspace_id", id), zap.Int64("user_id", actor.UserID))
	return nil
}

func applyWorkspace(ws *store.Workspace, input WorkspaceInput, create bool) error {
	if create || input.Name != nil {
		name := ""
		if input.Name != nil {
			name = *input.Name
		}
		trimmed, err := requireText("name", name)
		if err != nil {
			return err
		}
		ws.Name = trimmed
	}
	if input.Description != nil {
		ws.Description = strings.TrimSpace(*input.Description)
	}
	setIfPresent(&ws.IsDefault, input.IsDefault)
	return nil
}

func (s *Service) workspacePayload(ws store.Workspace) map[string]any {
	return map[string]any{
		"id":           ws.ID,
		"name":         ws.Name,
		"description":  ws.Description,
		"isDefault":    ws.IsDefault,
		"createdBy":    ws.CreatedBy,
		"createdAt":    ws.CreatedAt,
		"updatedAt":    ws.UpdatedAt,
		"url":          s.links.workspace(ws.ID),
		"parentUrl":    s.links.workspaces(),
		"tagList":      s.links.labels(ws.ID, store.LabelTag),
		"priorityList": s.links.labels(ws.ID, store.LabelPriority),
		"statusList":   s.links.labels(ws.ID, store.LabelStatus),
		"commentList":  s.links.comments(Scope{Workspace: ws.ID}),
		"categoryList": s.links.categories(ws.ID),
	}
}

func (s *Service) ListLabels(ctx context.Context, actor Actor, workspaceID int64, kind store.LabelKind) ([]map[string]any, error) {
	if _, err := s.resolveScope(ctx, actor, Scope{Workspace: workspaceID}); err != nil {
		return nil, err
	}
	labels, err := s.store.ListLabels(ctx, actor.viewer(), kind, workspaceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(labels))
	for _, l := range labels {
		items = append(items, s.labelPayload(l))
	}
	return items, nil
}

func (s *Service) getLabel(ctx context.Context, actor Actor, workspaceID int64, kind store.LabelKind, id int64) (store.Label, error) {
	if _, err := s.resolveScope(ctx, actor, Scope{Workspace: workspaceID}); err != nil {
		return store.Label{}, err
	}
	l, err := s.store.GetLabel(ctx, actor.viewer(), kind, id)
	if err != nil {
		return store.Label{}, err
	}
	if l.WorkspaceID != workspaceID {
		return store.Label{}, notFoundError()
	}
	return l, nil
}

func (s *Service) GetLabel(ctx context.Context, actor Actor, workspaceID int64, kind store.LabelKind, id int64) (map[string]any, error) {
	l, err := s.getLabel(ctx, actor, workspaceID, kind, id)
	if err != nil {
		return nil, err
	}
	return s.labelPayload(l), nil
}

func (s *Service) CreateLabel(ctx context.Context, actor Actor, workspaceID int64, kind store.LabelKind, input LabelInput) (map[string]any, error) {
	if _, err := s.resolveScope(ctx, actor, Scope{Workspace: workspaceID}); err != nil {
		return nil, err
	}
	l := store.Label{Kind: kind, WorkspaceID: workspaceID, CreatedBy: actor.UserID}
	if err := applyLabel(&l, input, true); err != nil {
		return nil, err
	}
	created, err := s.store.CreateLabel(ctx, actor.viewer(), l)
	if err != nil {
		return nil, err
	}
	return s.labelPayload(created), nil
}

func (s *Service) UpdateLabel(ctx context.Context, actor Actor, workspaceID int64, kind store.LabelKind, id int64, input LabelInput) (map[string]any, error) {
	current, err := s.getLabel(ctx, actor, workspaceID, kind, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current.CreatedBy); err != nil {
		return nil, err
	}
	if err := applyLabel(&current, input, false); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateLabel(ctx, actor.viewer(), current)
	if err != nil {
		return nil, err
	}
	return s.labelPayload(updated), nil
}

func (s *Service) DeleteLabel(ctx context.Context, actor Actor, workspaceID int64, kind store.LabelKind, id int64) error {
	current, err := s.getLabel(ctx, actor, workspaceID, kind, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, current.CreatedBy); err != nil {
		return err
	}
	return s.store.DeleteLabel(ctx, actor.viewer(), kind, id)
}

func applyLabel(l *store.Label, input LabelInput, create bool) error {
	if create || input.Name != nil {
		name := ""
		if input.Name != nil {
			name = *input.Name
		}
		trimmed, err := requireText("name", name)
		if err != nil {
			return err
		}
		l.Name = trimmed
	}
	if input.Description != nil {
		l.Description = strings.TrimSpace(*input.Description)
	}
	setIfPresent(&l.SortOrder, input.SortOrder)
	return nil
}

func (s *Service) labelPayload(l store.Label) map[string]any {
	return map[string]any{
		"id":          l.ID,
		"kind":        l.Kind,
		"workspace":   l.WorkspaceID,
		"name":        l.Name,
		"description": l.Description,
		"sortOrder":   l.SortOrder,
		"createdBy":   l.CreatedBy,
		"createdAt":   l.CreatedAt,
		"updatedAt":   l.UpdatedAt,
		"url":         s.links.label(l.WorkspaceID, l.Kind, l.ID),
		"parentUrl":   s.links.workspace(l.WorkspaceID),
	}
}
