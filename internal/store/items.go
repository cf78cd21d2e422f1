package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

func (k ItemKind) columns() string {
	project := "NULL::bigint"
	if k.hasProject {
		project = "project_id"
	}
	return `id, uuid::text, workspace_id, category_id, ` + project + `, parent_id, title, detail,
		status_id, priority_id, is_visible,
		estimated_start_date, estimated_end_date, actual_start_date, actual_end_date,
		estimated_effort, actual_effort, created_by, created_at, updated_at`
}

func scanWorkItem(row rowScanner) (WorkItem, error) {
	var w WorkItem
	err := row.Scan(
		&w.ID, &w.UUID, &w.WorkspaceID, &w.CategoryID, &w.ProjectID, &w.ParentID, &w.Title, &w.Detail,
		&w.StatusID, &w.PriorityID, &w.IsVisible,
		&w.EstimatedStart, &w.EstimatedEnd, &w.ActualStart, &w.ActualEnd,
		&w.EstimatedEffort, &w.ActualEffort, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

// ListWorkItems returns the projects or tasks of one category ordered by id.
// Tasks can be narrowed to a project.
func (s *PostgresStore) ListWorkItems(ctx context.Context, viewer Viewer, kind ItemKind, filter ItemFilter) ([]WorkItem, error) {
	where := []string{"category_id = $1", "($2 OR created_by = $3)", "is_visible = $4"}
	args := []any{filter.CategoryID, viewer.Admin, viewer.UserID, !filter.Archived}
	if kind.hasProject && filter.ProjectID != nil {
		args = append(args, *filter.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY id
	`, kind.columns(), kind.table, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind.Tree.Name, err)
	}
	defer rows.Close()

	items := make([]WorkItem, 0)
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind.Tree.Name, err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %ss: %w", kind.Tree.Name, err)
	}
	if err := loadTags(ctx, s.db, kind, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) GetWorkItem(ctx context.Context, viewer Viewer, kind ItemKind, id int64) (WorkItem, error) {
	return getWorkItem(ctx, s.db, viewer, kind, id)
}

func getWorkItem(ctx context.Context, q queryer, viewer Viewer, kind ItemKind, id int64) (WorkItem, error) {
	w, err := scanWorkItem(q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id=$1 AND ($2 OR created_by = $3)
	`, kind.columns(), kind.table), id, viewer.Admin, viewer.UserID))
	if err != nil {
		return WorkItem{}, notFound(err, kind.Tree.Name, id)
	}
	items := []WorkItem{w}
	if err := loadTags(ctx, q, kind, items); err != nil {
		return WorkItem{}, err
	}
	return items[0], nil
}

func loadTags(ctx context.Context, q queryer, kind ItemKind, items []WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	index := make(map[int64]int, len(items))
	ids := make([]int64, 0, len(items))
	for i := range items {
		items[i].TagIDs = []int64{}
		index[items[i].ID] = i
		ids = append(ids, items[i].ID)
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, tag_id
		FROM %s
		WHERE %s = ANY($1)
		ORDER BY tag_id
	`, kind.tagColumn, kind.tagTable, kind.tagColumn), ids)
	if err != nil {
		return fmt.Errorf("load %s tags: %w", kind.Tree.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var itemID, tagID int64
		if err := rows.Scan(&itemID, &tagID); err != nil {
			return fmt.Errorf("scan %s tag: %w", kind.Tree.Name, err)
		}
		if i, ok := index[itemID]; ok {
			items[i].TagIDs = append(items[i].TagIDs, tagID)
		}
	}
	return rows.Err()
}

// CreateWorkItem validates references and the parent, then inserts w with its
// tags in one transaction. The workspace is taken from the category.
func (s *PostgresStore) CreateWorkItem(ctx context.Context, viewer Viewer, kind ItemKind, w WorkItem) (WorkItem, error) {
	var created WorkItem
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		category, err := getCategory(ctx, tx, viewer, w.CategoryID)
		if err != nil {
			return err
		}
		w.ID = 0
		w.WorkspaceID = category.WorkspaceID
		if err := checkItemRefs(ctx, tx, viewer, kind, w); err != nil {
			return err
		}
		if err := validateTree(ctx, tx, kind.Tree, kind.table, "category_id", viewer, WorkItemRef(w)); err != nil {
			return err
		}
		if w.UUID == "" {
			w.UUID = uuid.NewString()
		}

		columns := `uuid, workspace_id, category_id, parent_id, title, detail, status_id, priority_id, is_visible,
			estimated_start_date, estimated_end_date, actual_start_date, actual_end_date,
			estimated_effort, actual_effort, created_by`
		values := `$1::text::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16`
		args := []any{
			w.UUID, w.WorkspaceID, w.CategoryID, w.ParentID, w.Title, w.Detail, w.StatusID, w.PriorityID, w.IsVisible,
			w.EstimatedStart, w.EstimatedEnd, w.ActualStart, w.ActualEnd,
			w.EstimatedEffort, w.ActualEffort, w.CreatedBy,
		}
		if kind.hasProject {
			columns += `, project_id`
			values += `, $17`
			args = append(args, w.ProjectID)
		}

		var id int64
		err = tx.QueryRowContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`, kind.table, columns, values), args...).Scan(&id)
		if err != nil {
			return fmt.Errorf("create %s: %w", kind.Tree.Name, mapWriteError(err))
		}
		if err := replaceTags(ctx, tx, kind, id, w.TagIDs); err != nil {
			return err
		}
		created, err = getWorkItem(ctx, tx, viewer, kind, id)
		return err
	})
	return created, err
}

// UpdateWorkItem rewrites the mutable fields of a stored project or task.
// Workspace, category, uuid and owner never change.
func (s *PostgresStore) UpdateWorkItem(ctx context.Context, viewer Viewer, kind ItemKind, w WorkItem) (WorkItem, error) {
	var updated WorkItem
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := getWorkItem(ctx, tx, viewer, kind, w.ID)
		if err != nil {
			return err
		}
		w.WorkspaceID = current.WorkspaceID
		w.CategoryID = current.CategoryID
		if err := checkItemRefs(ctx, tx, viewer, kind, w); err != nil {
			return err
		}
		if err := validateTree(ctx, tx, kind.Tree, kind.table, "category_id", viewer, WorkItemRef(w)); err != nil {
			return err
		}

		set := `parent_id=$2, title=$3, detail=$4, status_id=$5, priority_id=$6, is_visible=$7,
			estimated_start_date=$8, estimated_end_date=$9, actual_start_date=$10, actual_end_date=$11,
			estimated_effort=$12, actual_effort=$13, updated_at=NOW()`
		args := []any{
			w.ID, w.ParentID, w.Title, w.Detail, w.StatusID, w.PriorityID, w.IsVisible,
			w.EstimatedStart, w.EstimatedEnd, w.ActualStart, w.ActualEnd,
			w.EstimatedEffort, w.ActualEffort,
		}
		if kind.hasProject {
			set += `, project_id=$14`
			args = append(args, w.ProjectID)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id=$1`, kind.table, set), args...); err != nil {
			return fmt.Errorf("update %s: %w", kind.Tree.Name, mapWriteError(err))
		}
		if err := replaceTags(ctx, tx, kind, w.ID, w.TagIDs); err != nil {
			return err
		}
		updated, err = getWorkItem(ctx, tx, viewer, kind, w.ID)
		return err
	})
	return updated, err
}

// DeleteWorkItem removes the item with its sub-items and comments. Deleting
// a project also removes the tasks filed under it.
func (s *PostgresStore) DeleteWorkItem(ctx context.Context, viewer Viewer, kind ItemKind, id int64) error {
	return deleteOwned(ctx, s.db, kind.table, kind.Tree.Name, viewer, id)
}

func replaceTags(ctx context.Context, tx *sql.Tx, kind ItemKind, itemID int64, tagIDs []int64) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s=$1`, kind.tagTable, kind.tagColumn), itemID); err != nil {
		return fmt.Errorf("clear %s tags: %w", kind.Tree.Name, err)
	}
	for _, tagID := range uniqueIDs(tagIDs) {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s, tag_id) VALUES ($1, $2)`, kind.tagTable, kind.tagColumn), itemID, tagID); err != nil {
			return fmt.Errorf("tag %s: %w", kind.Tree.Name, err)
		}
	}
	return nil
}

// checkItemRefs confirms that project, status, priority and tags all live in
// the item's category or workspace.
func checkItemRefs(ctx context.Context, tx *sql.Tx, viewer Viewer, kind ItemKind, w WorkItem) error {
	if kind.hasProject && w.ProjectID != nil {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM projects WHERE id=$1 AND category_id=$2 AND ($3 OR created_by = $4))
		`, *w.ProjectID, w.CategoryID, viewer.Admin, viewer.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check project: %w", err)
		}
		if !exists {
			return &NotFoundError{Entity: "project", ID: *w.ProjectID, Field: "project"}
		}
	}
	if w.StatusID != nil {
		if err := requireLabel(ctx, tx, LabelStatus, *w.StatusID, w.WorkspaceID, "status"); err != nil {
			return err
		}
	}
	if w.PriorityID != nil {
		if err := requireLabel(ctx, tx, LabelPriority, *w.PriorityID, w.WorkspaceID, "priority"); err != nil {
			return err
		}
	}
	for _, tagID := range uniqueIDs(w.TagIDs) {
		if err := requireLabel(ctx, tx, LabelTag, tagID, w.WorkspaceID, "tags"); err != nil {
			return err
		}
	}
	return nil
}

func requireLabel(ctx context.Context, tx *sql.Tx, kind LabelKind, id, workspaceID int64, field string) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id=$1 AND workspace_id=$2)`, kind.table()),
		id, workspaceID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s: %w", kind, err)
	}
	if !exists {
		return &NotFoundError{Entity: string(kind), ID: id, Field: field}
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
