package app

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/tree"
)

// ListOptions controls collection listings of tree entities.
type ListOptions struct {
	Nested   bool
	Archived bool
}

// treeListing shapes a tree entity collection. Flat listings keep id order.
// Nested listings follow the forest and put each node's children under
// "children". payload receives the node's direct children either way so it
// can embed childrenUrl.
func treeListing[T any](nodes []T, ref tree.RefFunc[T], nested bool, payload func(T, tree.Forest[T]) map[string]any) []map[string]any {
	forest := tree.Build(nodes, ref)
	if nested {
		return nestedListing(forest, payload)
	}

	branches := forest.Flatten()
	sort.SliceStable(branches, func(i, j int) bool { return branches[i].ID < branches[j].ID })
	out := make([]map[string]any, 0, len(branches))
	for _, b := range branches {
		out = append(out, payload(b.Node, tree.Forest[T](b.Children)))
	}
	return out
}

func nestedListing[T any](forest tree.Forest[T], payload func(T, tree.Forest[T]) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(forest))
	for _, b := range forest {
		children := tree.Forest[T](b.Children)
		item := payload(b.Node, children)
		item["children"] = nestedListing(children, payload)
		out = append(out, item)
	}
	return out
}

// subtree returns the children of id within nodes.
func subtree[T any](nodes []T, ref tree.RefFunc[T], id int64) tree.Forest[T] {
	branch := tree.Build(nodes, ref).Find(id)
	if branch == nil {
		return tree.Forest[T]{}
	}
	return tree.Forest[T](branch.Children)
}

func descendantIDs[T any](nodes []T, ref tree.RefFunc[T], id int64) []int64 {
	var ids []int64
	for _, node := range tree.Build(nodes, ref).Descendants(id) {
		ids = append(ids, ref(node).ID)
	}
	return ids
}

func parentURL(parentID *int64, url func(int64) string) any {
	if parentID == nil {
		return nil
	}
	return url(*parentID)
}

// Categories

func (s *Service) ListCategories(ctx context.Context, actor Actor, workspaceID int64, opts ListOptions) ([]map[string]any, error) {
	if _, err := s.resolveScope(ctx, actor, Scope{Workspace: workspaceID}); err != nil {
		return nil, err
	}
	categories, err := s.store.ListCategories(ctx, actor.viewer(), workspaceID)
	if err != nil {
		return nil, err
	}
	return treeListing(categories, store.CategoryRef, opts.Nested, s.categoryPayload), nil
}

func (s *Service) GetCategory(ctx context.Context, actor Actor, workspaceID, id int64) (map[string]any, error) {
	r, err := s.resolveScope(ctx, actor, Scope{Workspace: workspaceID, Category: id})
	if err != nil {
		return nil, err
	}
	return s.categoryDetail(ctx, actor, r.category)
}

func (s *Service) categoryDetail(ctx context.Context, actor Actor, c store.Category) (map[string]any, error) {
	siblings, err := s.store.ListCategories(ctx, actor.viewer(), c.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return s.categoryPayload(c, subtree(siblings, store.CategoryRef, c.ID)), nil
}

func (s *Service) CreateCategory(ctx context.Context, actor Actor, workspaceID int64, input CategoryInput) (map[string]any, error) {
	if _, err := s.resolveScope(ctx, actor, Scope{Workspace: workspaceID}); err != nil {
		return nil, err
	}
	c := store.Category{WorkspaceID: workspaceID, CreatedBy: actor.UserID}
	if err := applyCategory(&c, input, true); err != nil {
		return nil, err
	}
	created, err := s.store.CreateCategory(ctx, actor.viewer(), c)
	if err != nil {
		return nil, err
	}
	return s.categoryPayload(created, tree.Forest[store.Category]{}), nil
}

func (s *Service) UpdateCategory(ctx context.Context, actor Actor, workspaceID, id int64, input CategoryInput) (map[string]any, error) {
	r, err := s.resolveScope(ctx, actor, Scope{Workspace: workspaceID, Category: id})
	if err != nil {
		return nil, err
	}
	current := r.category
	if err := authorize(actor, current.CreatedBy); err != nil {
		return nil, err
	}
	if err := applyCategory(&current, input, false); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateCategory(ctx, actor.viewer(), current)
	if err != nil {
		return nil, err
	}
	return s.categoryDetail(ctx, actor, updated)
}

// DeleteCategory removes the category, its subcategories and everything
// filed under them.
func (s *Service) DeleteCategory(ctx context.Context, actor Actor, workspaceID, id int64) error {
	r, err := s.resolveScope(ctx, actor, Scope{Workspace: workspaceID, Category: id})
	if err != nil {
		return err
	}
	if err := authorize(actor, r.category.CreatedBy); err != nil {
		return err
	}

	categories, err := s.store.ListCategories(ctx, actor.viewer(), workspaceID)
	if err != nil {
		return err
	}
	removed := append([]int64{id}, descendantIDs(categories, store.CategoryRef, id)...)
	var projects, tasks []string
	for _, categoryID := range removed {
		for _, kind := range []store.ItemKind{store.Projects, store.Tasks} {
			items, err := s.allItems(ctx, actor, kind, store.ItemFilter{CategoryID: categoryID})
			if err != nil {
				return err
			}
			for _, w := range items {
				if kind == store.Projects {
					projects = append(projects, search.ItemKey(w.ID))
				} else {
					tasks = append(tasks, search.ItemKey(w.ID))
				}
			}
		}
	}

	if err := s.store.DeleteCategory(ctx, actor.viewer(), id); err != nil {
		return err
	}
	s.search.Forget(search.ResultProject, projects...)
	s.search.Forget(search.ResultTask, tasks...)
	s.logger.Info("category deleted",
		zap.Int64("category_id", id),
		zap.Int("subcategories", len(removed)-1),
		zap.Int64("user_id", actor.UserID),
	)
	return nil
}

func applyCategory(c *store.Category, input CategoryInput, create bool) error {
	if create || input.Name != nil {
		name := ""
		if input.Name != nil {
			name = *input.Name
		}
		trimmed, err := requireText("name", name)
		if err != nil {
			return err
		}
		c.Name = trimmed
	}
	if input.Description != nil {
		c.Description = strings.TrimSpace(*input.Description)
	}
	input.Parent.apply(&c.ParentID)
	return nil
}

func (s *Service) categoryPayload(c store.Category, children tree.Forest[store.Category]) map[string]any {
	url := func(id int64) string { return s.links.category(c.WorkspaceID, id) }
	return map[string]any{
		"id":          c.ID,
		"workspace":   c.WorkspaceID,
		"parent":      c.ParentID,
		"name":        c.Name,
		"description": c.Description,
		"createdBy":   c.CreatedBy,
		"createdAt":   c.CreatedAt,
		"updatedAt":   c.UpdatedAt,
		"url":         url(c.ID),
		"parentUrl":   parentURL(c.ParentID, url),
		"childrenUrl": tree.LinkMap(children, func(n store.Category) string { return url(n.ID) }),
		"commentList": s.links.comments(Scope{Workspace: c.WorkspaceID, Category: c.ID}),
		"projectList": s.links.items(c.WorkspaceID, c.ID, store.Projects),
		"taskList":    s.links.items(c.WorkspaceID, c.ID, store.Tasks),
	}
}

// Comments

func (s *Service) ListComments(ctx context.Context, actor Actor, sc Scope, opts ListOptions) ([]map[string]any, error) {
	if _, err := s.resolveScope(ctx, actor, sc); err != nil {
		return nil, err
	}
	kind, scopeID, _ := sc.commentKind()
	comments, err := s.store.ListComments(ctx, actor.viewer(), kind, scopeID)
	if err != nil {
		return nil, err
	}
	return treeListing(comments, store.CommentRef, opts.Nested, s.commentPayloader(sc)), nil
}

func (s *Service) getComment(ctx context.Context, actor Actor, sc Scope, id int64) (resolvedScope, store.Comment, error) {
	r, err := s.resolveScope(ctx, actor, sc)
	if err != nil {
		return r, store.Comment{}, err
	}
	kind, scopeID, _ := sc.commentKind()
	c, err := s.store.GetComment(ctx, actor.viewer(), kind, id)
	if err != nil {
		return r, store.Comment{}, err
	}
	if c.ScopeID != scopeID {
		return r, store.Comment{}, notFoundError()
	}
	return r, c, nil
}

func (s *Service) GetComment(ctx context.Context, actor Actor, sc Scope, id int64) (map[string]any, error) {
	_, c, err := s.getComment(ctx, actor, sc, id)
	if err != nil {
		return nil, err
	}
	return s.commentDetail(ctx, actor, sc, c)
}

func (s *Service) commentDetail(ctx context.Context, actor Actor, sc Scope, c store.Comment) (map[string]any, error) {
	kind, scopeID, _ := sc.commentKind()
	thread, err := s.store.ListComments(ctx, actor.viewer(), kind, scopeID)
	if err != nil {
		return nil, err
	}
	return s.commentPayloader(sc)(c, subtree(thread, store.CommentRef, c.ID)), nil
}

func (s *Service) CreateComment(ctx context.Context, actor Actor, sc Scope, input CommentInput) (map[string]any, error) {
	r, err := s.resolveScope(ctx, actor, sc)
	if err != nil {
		return nil, err
	}
	kind, scopeID, _ := sc.commentKind()
	c := store.Comment{ScopeID: scopeID, CreatedBy: actor.UserID}
	if err := applyComment(&c, input, true); err != nil {
		return nil, err
	}
	created, err := s.store.CreateComment(ctx, actor.viewer(), kind, c)
	if err != nil {
		return nil, err
	}
	s.search.IndexComment(commentRecord(sc, r, created))
	return s.commentPayloader(sc)(created, tree.Forest[store.Comment]{}), nil
}

func (s *Service) UpdateComment(ctx context.Context, actor Actor, sc Scope, id int64, input CommentInput) (map[string]any, error) {
	r, current, err := s.getComment(ctx, actor, sc, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current.CreatedBy); err != nil {
		return nil, err
	}
	if err := applyComment(&current, input, false); err != nil {
		return nil, err
	}
	kind, _, _ := sc.commentKind()
	updated, err := s.store.UpdateComment(ctx, actor.viewer(), kind, current)
	if err != nil {
		return nil, err
	}
	s.search.IndexComment(commentRecord(sc, r, updated))
	return s.commentDetail(ctx, actor, sc, updated)
}

// DeleteComment removes a comment and its replies.
func (s *Service) DeleteComment(ctx context.Context, actor Actor, sc Scope, id int64) error {
	_, current, err := s.getComment(ctx, actor, sc, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, current.CreatedBy); err != nil {
		return err
	}
	kind, scopeID, on := sc.commentKind()
	thread, err := s.store.ListComments(ctx, actor.viewer(), kind, scopeID)
	if err != nil {
		return err
	}
	keys := []string{search.CommentKey(on, id)}
	for _, replyID := range descendantIDs(thread, store.CommentRef, id) {
		keys = append(keys, search.CommentKey(on, replyID))
	}

	if err := s.store.DeleteComment(ctx, actor.viewer(), kind, id); err != nil {
		return err
	}
	s.search.Forget(search.ResultComment, keys...)
	return nil
}

func applyComment(c *store.Comment, input CommentInput, create bool) error {
	if create || input.Content != nil {
		content := ""
		if input.Content != nil {
			content = *input.Content
		}
		trimmed, err := requireText("content", content)
		if err != nil {
			return err
		}
		c.Content = trimmed
	}
	input.Parent.apply(&c.ParentID)
	return nil
}

func (s *Service) commentPayloader(sc Scope) func(store.Comment, tree.Forest[store.Comment]) map[string]any {
	url := func(id int64) string { return s.links.comment(sc, id) }
	return func(c store.Comment, children tree.Forest[store.Comment]) map[string]any {
		return map[string]any{
			"id":          c.ID,
			"parent":      c.ParentID,
			"content":     c.Content,
			"createdBy":   c.CreatedBy,
			"createdAt":   c.CreatedAt,
			"updatedAt":   c.UpdatedAt,
			"url":         url(c.ID),
			"parentUrl":   parentURL(c.ParentID, url),
			"childrenUrl": tree.LinkMap(children, func(n store.Comment) string { return url(n.ID) }),
			"ownerUrl":    s.links.owner(sc),
		}
	}
}

func commentRecord(sc Scope, r resolvedScope, c store.Comment) search.CommentRecord {
	_, scopeID, on := sc.commentKind()
	return search.CommentRecord{
		Key:         search.CommentKey(on, c.ID),
		CommentID:   c.ID,
		CommentOn:   on,
		ScopeID:     scopeID,
		WorkspaceID: r.workspace.ID,
		CategoryID:  r.category.ID,
		Content:     c.Content,
		CreatedBy:   c.CreatedBy,
	}
}

// Projects and tasks

func resultType(kind store.ItemKind) search.ResultType {
	if kind == store.Projects {
		return search.ResultProject
	}
	return search.ResultTask
}

// itemFilter narrows listings to the category, and for tasks below a
// project path, to that project.
func itemFilter(sc Scope, kind store.ItemKind, archived bool) store.ItemFilter {
	filter := store.ItemFilter{CategoryID: sc.Category, Archived: archived}
	if kind == store.Tasks && sc.Project != 0 {
		project := sc.Project
		filter.ProjectID = &project
	}
	return filter
}

// allItems lists visible and archived items together.
func (s *Service) allItems(ctx context.Context, actor Actor, kind store.ItemKind, filter store.ItemFilter) ([]store.WorkItem, error) {
	filter.Archived = false
	visible, err := s.store.ListWorkItems(ctx, actor.viewer(), kind, filter)
	if err != nil {
		return nil, err
	}
	filter.Archived = true
	archived, err := s.store.ListWorkItems(ctx, actor.viewer(), kind, filter)
	if err != nil {
		return nil, err
	}
	return append(visible, archived...), nil
}

func (s *Service) ListWorkItems(ctx context.Context, actor Actor, sc Scope, kind store.ItemKind, opts ListOptions) ([]map[string]any, error) {
	if _, err := s.resolveScope(ctx, actor, sc); err != nil {
		return nil, err
	}
	items, err := s.store.ListWorkItems(ctx, actor.viewer(), kind, itemFilter(sc, kind, opts.Archived))
	if err != nil {
		return nil, err
	}
	return treeListing(items, store.WorkItemRef, opts.Nested, s.workItemPayloader(kind)), nil
}

func (s *Service) getWorkItem(ctx context.Context, actor Actor, sc Scope, kind store.ItemKind, id int64) (resolvedScope, store.WorkItem, error) {
	r, err := s.resolveScope(ctx, actor, sc)
	if err != nil {
		return r, store.WorkItem{}, err
	}
	w, err := s.store.GetWorkItem(ctx, actor.viewer(), kind, id)
	if err != nil {
		return r, store.WorkItem{}, err
	}
	if w.CategoryID != sc.Category {
		return r, store.WorkItem{}, notFoundError()
	}
	if kind == store.Tasks && sc.Project != 0 && (w.ProjectID == nil || *w.ProjectID != sc.Project) {
		return r, store.WorkItem{}, notFoundError()
	}
	return r, w, nil
}

func (s *Service) GetWorkItem(ctx context.Context, actor Actor, sc Scope, kind store.ItemKind, id int64) (map[string]any, error) {
	_, w, err := s.getWorkItem(ctx, actor, sc, kind, id)
	if err != nil {
		return nil, err
	}
	return s.workItemDetail(ctx, actor, kind, w)
}

func (s *Service) workItemDetail(ctx context.Context, actor Actor, kind store.ItemKind, w store.WorkItem) (map[string]any, error) {
	siblings, err := s.allItems(ctx, actor, kind, store.ItemFilter{CategoryID: w.CategoryID})
	if err != nil {
		return nil, err
	}
	return s.workItemPayloader(kind)(w, subtree(siblings, store.WorkItemRef, w.ID)), nil
}

func (s *Service) CreateWorkItem(ctx context.Context, actor Actor, sc Scope, kind store.ItemKind, input WorkItemInput) (map[string]any, error) {
	if _, err := s.resolveScope(ctx, actor, sc); err != nil {
		return nil, err
	}
	w := store.WorkItem{CategoryID: sc.Category, IsVisible: true, CreatedBy: actor.UserID}
	if err := applyWorkItem(&w, kind, input, true); err != nil {
		return nil, err
	}
	if err := pinProject(&w, sc, kind, input); err != nil {
		return nil, err
	}

	created, err := s.store.CreateWorkItem(ctx, actor.viewer(), kind, w)
	if err != nil {
		return nil, err
	}
	s.search.IndexItem(resultType(kind), itemRecord(created))
	s.logger.Info(kind.Tree.Name+" created", zap.Int64("id", created.ID), zap.Int64("user_id", actor.UserID))
	return s.workItemPayloader(kind)(created, tree.Forest[store.WorkItem]{}), nil
}

func (s *Service) UpdateWorkItem(ctx context.Context, actor Actor, sc Scope, kind store.ItemKind, id int64, input WorkItemInput) (map[string]any, error) {
	_, current, err := s.getWorkItem(ctx, actor, sc, kind, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current.CreatedBy); err != nil {
		return nil, err
	}
	if err := applyWorkItem(&current, kind, input, false); err != nil {
		return nil, err
	}
	if err := pinProject(&current, sc, kind, input); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateWorkItem(ctx, actor.viewer(), kind, current)
	if err != nil {
		return nil, err
	}
	s.search.IndexItem(resultType(kind), itemRecord(updated))
	return s.workItemDetail(ctx, actor, kind, updated)
}

// DeleteWorkItem removes the item and its sub-items. Deleting a project also
// removes the tasks filed under the removed projects.
func (s *Service) DeleteWorkItem(ctx context.Context, actor Actor, sc Scope, kind store.ItemKind, id int64) error {
	_, current, err := s.getWorkItem(ctx, actor, sc, kind, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, current.CreatedBy); err != nil {
		return err
	}

	siblings, err := s.allItems(ctx, actor, kind, store.ItemFilter{CategoryID: current.CategoryID})
	if err != nil {
		return err
	}
	removed := append([]int64{id}, descendantIDs(siblings, store.WorkItemRef, id)...)
	keys := make([]string, 0, len(removed))
	for _, itemID := range removed {
		keys = append(keys, search.ItemKey(itemID))
	}
	var taskKeys []string
	if kind == store.Projects {
		gone := make(map[int64]bool, len(removed))
		for _, itemID := range removed {
			gone[itemID] = true
		}
		tasks, err := s.allItems(ctx, actor, store.Tasks, store.ItemFilter{CategoryID: current.CategoryID})
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.ProjectID != nil && gone[*t.ProjectID] {
				taskKeys = append(taskKeys, search.ItemKey(t.ID))
			}
		}
	}

	if err := s.store.DeleteWorkItem(ctx, actor.viewer(), kind, id); err != nil {
		return err
	}
	s.search.Forget(resultType(kind), keys...)
	if len(taskKeys) > 0 {
		s.search.Forget(search.ResultTask, taskKeys...)
	}
	s.logger.Info(kind.Tree.Name+" deleted", zap.Int64("id", id), zap.Int("removed", len(removed)), zap.Int64("user_id", actor.UserID))
	return nil
}

// pinProject files tasks created or edited below a project path under that
// project. A project field in the body must agree with the path.
func pinProject(w *store.WorkItem, sc Scope, kind store.ItemKind, input WorkItemInput) error {
	if kind != store.Tasks || sc.Project == 0 {
		return nil
	}
	if input.Project.Set && (input.Project.Value == nil || *input.Project.Value != sc.Project) {
		return fieldError("project", "project must match the project in the path")
	}
	project := sc.Project
	w.ProjectID = &project
	return nil
}

func applyWorkItem(w *store.WorkItem, kind store.ItemKind, input WorkItemInput, create bool) error {
	if create || input.Title != nil {
		title := ""
		if input.Title != nil {
			title = *input.Title
		}
		trimmed, err := requireText("title", title)
		if err != nil {
			return err
		}
		w.Title = trimmed
	}
	if input.Detail != nil {
		w.Detail = strings.TrimSpace(*input.Detail)
	}
	input.Parent.apply(&w.ParentID)
	if kind == store.Tasks {
		input.Project.apply(&w.ProjectID)
	}
	input.Status.apply(&w.StatusID)
	input.Priority.apply(&w.PriorityID)
	if input.Tags != nil {
		w.TagIDs = append([]int64(nil), (*input.Tags)...)
	}
	setIfPresent(&w.IsVisible, input.IsVisible)

	if err := applyDate("estimatedStartDate", input.EstimatedStartDate, &w.EstimatedStart); err != nil {
		return err
	}
	if err := applyDate("estimatedEndDate", input.EstimatedEndDate, &w.EstimatedEnd); err != nil {
		return err
	}
	if err := applyDate("actualStartDate", input.ActualStartDate, &w.ActualStart); err != nil {
		return err
	}
	if err := applyDate("actualEndDate", input.ActualEndDate, &w.ActualEnd); err != nil {
		return err
	}
	if err := applyEffort("estimatedEffort", input.EstimatedEffort, &w.EstimatedEffort); err != nil {
		return err
	}
	return applyEffort("actualEffort", input.ActualEffort, &w.ActualEffort)
}

func (s *Service) workItemPayloader(kind store.ItemKind) func(store.WorkItem, tree.Forest[store.WorkItem]) map[string]any {
	return func(w store.WorkItem, children tree.Forest[store.WorkItem]) map[string]any {
		url := func(id int64) string { return s.links.item(w.WorkspaceID, w.CategoryID, kind, id) }
		scope := Scope{Workspace: w.WorkspaceID, Category: w.CategoryID}
		if kind == store.Projects {
			scope.Project = w.ID
		} else {
			scope.Task = w.ID
		}
		tags := w.TagIDs
		if tags == nil {
			tags = []int64{}
		}

		payload := map[string]any{
			"id":                 w.ID,
			"uuid":               w.UUID,
			"workspace":          w.WorkspaceID,
			"category":           w.CategoryID,
			"parent":             w.ParentID,
			"title":              w.Title,
			"detail":             w.Detail,
			"status":             w.StatusID,
			"priority":           w.PriorityID,
			"tags":               tags,
			"isVisible":          w.IsVisible,
			"estimatedStartDate": formatDate(w.EstimatedStart),
			"estimatedEndDate":   formatDate(w.EstimatedEnd),
			"actualStartDate":    formatDate(w.ActualStart),
			"actualEndDate":      formatDate(w.ActualEnd),
			"estimatedEffort":    w.EstimatedEffort,
			"actualEffort":       w.ActualEffort,
			"createdBy":          w.CreatedBy,
			"createdAt":          w.CreatedAt,
			"updatedAt":          w.UpdatedAt,
			"url":                url(w.ID),
			"parentUrl":          parentURL(w.ParentID, url),
			"childrenUrl":        tree.LinkMap(children, func(n store.WorkItem) string { return url(n.ID) }),
			"categoryUrl":        s.links.category(w.WorkspaceID, w.CategoryID),
			"commentList":        s.links.comments(scope),
		}
		if kind == store.Projects {
			payload["taskList"] = s.links.projectTasks(w.WorkspaceID, w.CategoryID, w.ID)
		} else {
			payload["project"] = w.ProjectID
			payload["projectUrl"] = parentURL(w.ProjectID, func(id int64) string {
				return s.links.item(w.WorkspaceID, w.CategoryID, store.Projects, id)
			})
		}
		return payload
	}
}

func itemRecord(w store.WorkItem) search.ItemRecord {
	return search.ItemRecord{
		Key:         search.ItemKey(w.ID),
		ItemID:      w.ID,
		Title:       w.Title,
		Detail:      w.Detail,
		WorkspaceID: w.WorkspaceID,
		CategoryID:  w.CategoryID,
		CreatedBy:   w.CreatedBy,
		IsVisible:   w.IsVisible,
	}
}
