package store

import (
	"context"
	"database/sql"
	"fmt"

	"taskhub/api/internal/tree"
)

const categoryColumns = `id, workspace_id, parent_id, name, description, created_by, created_at, updated_at`

func scanCategory(row rowScanner) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.ParentID, &c.Name, &c.Description, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) ListCategories(ctx context.Context, viewer Viewer, workspaceID int64) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE workspace_id=$1 AND ($2 OR created_by = $3)
		ORDER BY id
	`, workspaceID, viewer.Admin, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetCategory(ctx context.Context, viewer Viewer, id int64) (Category, error) {
	return getCategory(ctx, s.db, viewer, id)
}

func getCategory(ctx context.Context, q queryer, viewer Viewer, id int64) (Category, error) {
	c, err := scanCategory(q.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE id=$1 AND ($2 OR created_by = $3)
	`, id, viewer.Admin, viewer.UserID))
	if err != nil {
		return Category{}, notFound(err, "category", id)
	}
	return c, nil
}

// CreateCategory validates the parent and inserts c in one transaction.
func (s *PostgresStore) CreateCategory(ctx context.Context, viewer Viewer, c Category) (Category, error) {
	var created Category
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireVisible(ctx, tx, "workspaces", "workspace", viewer, c.WorkspaceID, ""); err != nil {
			return err
		}
		c.ID = 0
		if err := validateTree(ctx, tx, tree.Category, "categories", "workspace_id", viewer, CategoryRef(c)); err != nil {
			return err
		}
		var err error
		created, err = scanCategory(tx.QueryRowContext(ctx, `
			INSERT INTO categories (workspace_id, parent_id, name, description, created_by)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+categoryColumns,
			c.WorkspaceID, c.ParentID, c.Name, c.Description, c.CreatedBy))
		if err != nil {
			return fmt.Errorf("create category: %w", mapWriteError(err))
		}
		return nil
	})
	return created, err
}

// UpdateCategory rewrites name, description and parent. The workspace of a
// stored category never changes.
func (s *PostgresStore) UpdateCategory(ctx context.Context, viewer Viewer, c Category) (Category, error) {
	var updated Category
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := getCategory(ctx, tx, viewer, c.ID)
		if err != nil {
			return err
		}
		c.WorkspaceID = current.WorkspaceID
		if err := validateTree(ctx, tx, tree.Category, "categories", "workspace_id", viewer, CategoryRef(c)); err != nil {
			return err
		}
		updated, err = scanCategory(tx.QueryRowContext(ctx, `
			UPDATE categories
			SET parent_id=$2, name=$3, description=$4, updated_at=NOW()
			WHERE id=$1
			RETURNING `+categoryColumns,
			c.ID, c.ParentID, c.Name, c.Description))
		if err != nil {
			return fmt.Errorf("update category: %w", mapWriteError(err))
		}
		return nil
	})
	return updated, err
}

// DeleteCategory removes the category with its subcategories, work items and
// comments.
func (s *PostgresStore) DeleteCategory(ctx context.Context, viewer Viewer, id int64) error {
	return deleteOwned(ctx, s.db, "categories", "category", viewer, id)
}
