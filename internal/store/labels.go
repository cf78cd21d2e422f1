package store

import (
	"context"
	"database/sql"
	"fmt"
)

const labelColumns = `id, workspace_id, name, description, sort_order, created_by, created_at, updated_at`

func scanLabel(row rowScanner, kind LabelKind) (Label, error) {
	l := Label{Kind: kind}
	err := row.Scan(&l.ID, &l.WorkspaceID, &l.Name, &l.Description, &l.SortOrder, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// ListLabels returns the tags, priorities or statuses of a workspace ordered
// by sort order then id.
func (s *PostgresStore) ListLabels(ctx context.Context, viewer Viewer, kind LabelKind, workspaceID int64) ([]Label, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE workspace_id=$1 AND ($2 OR created_by = $3)
		ORDER BY sort_order, id
	`, labelColumns, kind.table()), workspaceID, viewer.Admin, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("list %s labels: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Label, 0)
	for rows.Next() {
		l, err := scanLabel(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetLabel(ctx context.Context, viewer Viewer, kind LabelKind, id int64) (Label, error) {
	l, err := scanLabel(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id=$1 AND ($2 OR created_by = $3)
	`, labelColumns, kind.table()), id, viewer.Admin, viewer.UserID), kind)
	if err != nil {
		return Label{}, notFound(err, string(kind), id)
	}
	return l, nil
}

func (s *PostgresStore) CreateLabel(ctx context.Context, viewer Viewer, l Label) (Label, error) {
	var created Label
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireVisible(ctx, tx, "workspaces", "workspace", viewer, l.WorkspaceID, ""); err != nil {
			return err
		}
		var err error
		created, err = scanLabel(tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (workspace_id, name, description, sort_order, created_by)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING %s
		`, l.Kind.table(), labelColumns), l.WorkspaceID, l.Name, l.Description, l.SortOrder, l.CreatedBy), l.Kind)
		if err != nil {
			return fmt.Errorf("create %s: %w", l.Kind, mapWriteError(err))
		}
		return nil
	})
	return created, err
}

func (s *PostgresStore) UpdateLabel(ctx context.Context, viewer Viewer, l Label) (Label, error) {
	updated, err := scanLabel(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET name=$2, description=$3, sort_order=$4, updated_at=NOW()
		WHERE id=$1 AND ($5 OR created_by = $6)
		RETURNING %s
	`, l.Kind.table(), labelColumns), l.ID, l.Name, l.Description, l.SortOrder, viewer.Admin, viewer.UserID), l.Kind)
	if err != nil {
		if isNoRows(err) {
			return Label{}, &NotFoundError{Entity: string(l.Kind), ID: l.ID}
		}
		return Label{}, fmt.Errorf("update %s: %w", l.Kind, mapWriteError(err))
	}
	return updated, nil
}

func (s *PostgresStore) DeleteLabel(ctx context.Context, viewer Viewer, kind LabelKind, id int64) error {
	return deleteOwned(ctx, s.db, kind.table(), string(kind), viewer, id)
}
