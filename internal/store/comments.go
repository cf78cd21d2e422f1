package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (k CommentKind) columns() string {
	return fmt.Sprintf(`id, %s, parent_id, content, created_by, created_at, updated_at`, k.scopeColumn)
}

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.ScopeID, &c.ParentID, &c.Content, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ListComments returns every comment of one scope ordered by id.
func (s *PostgresStore) ListComments(ctx context.Context, viewer Viewer, kind CommentKind, scopeID int64) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s=$1 AND ($2 OR created_by = $3)
		ORDER BY id
	`, kind.columns(), kind.table, kind.scopeColumn), scopeID, viewer.Admin, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind.Tree.Name, err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind.Tree.Name, err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetComment(ctx context.Context, viewer Viewer, kind CommentKind, id int64) (Comment, error) {
	return getComment(ctx, s.db, viewer, kind, id)
}

func getComment(ctx context.Context, q queryer, viewer Viewer, kind CommentKind, id int64) (Comment, error) {
	c, err := scanComment(q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id=$1 AND ($2 OR created_by = $3)
	`, kind.columns(), kind.table), id, viewer.Admin, viewer.UserID))
	if err != nil {
		return Comment{}, notFound(err, kind.Tree.Name, id)
	}
	return c, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, viewer Viewer, kind CommentKind, c Comment) (Comment, error) {
	var created Comment
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireVisible(ctx, tx, kind.scopeTable, kind.Tree.Scope, viewer, c.ScopeID, ""); err != nil {
			return err
		}
		c.ID = 0
		if err := validateTree(ctx, tx, kind.Tree, kind.table, kind.scopeColumn, viewer, CommentRef(c)); err != nil {
			return err
		}
		var err error
		created, err = scanComment(tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s, parent_id, content, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING %s
		`, kind.table, kind.scopeColumn, kind.columns()), c.ScopeID, c.ParentID, c.Content, c.CreatedBy))
		if err != nil {
			return fmt.Errorf("create %s: %w", kind.Tree.Name, mapWriteError(err))
		}
		return nil
	})
	return created, err
}

// UpdateComment rewrites content and parent of a stored comment.
func (s *PostgresStore) UpdateComment(ctx context.Context, viewer Viewer, kind CommentKind, c Comment) (Comment, error) {
	var updated Comment
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := getComment(ctx, tx, viewer, kind, c.ID)
		if err != nil {
			return err
		}
		c.ScopeID = current.ScopeID
		if err := validateTree(ctx, tx, kind.Tree, kind.table, kind.scopeColumn, viewer, CommentRef(c)); err != nil {
			return err
		}
		updated, err = scanComment(tx.QueryRowContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET parent_id=$2, content=$3, updated_at=NOW()
			WHERE id=$1
			RETURNING %s
		`, kind.table, kind.columns()), c.ID, c.ParentID, c.Content))
		if err != nil {
			return fmt.Errorf("update %s: %w", kind.Tree.Name, mapWriteError(err))
		}
		return nil
	})
	return updated, err
}

// DeleteComment removes the comment and its replies.
func (s *PostgresStore) DeleteComment(ctx context.Context, viewer Viewer, kind CommentKind, id int64) error {
	return deleteOwned(ctx, s.db, kind.table, kind.Tree.Name, viewer, id)
}
