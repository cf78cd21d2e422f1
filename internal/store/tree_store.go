package store

import (
	"context"
	"fmt"

	"taskhub/api/internal/tree"
)

// treeLookup resolves nodes of one self-referencing table for the validator
// inside the caller's transaction.
func treeLookup(q queryer, table, scopeColumn string, viewer Viewer) tree.Lookup {
	query := fmt.Sprintf(`
		SELECT id, parent_id, %s
		FROM %s
		WHERE id=$1 AND ($2 OR created_by = $3)
	`, scopeColumn, table)
	return func(ctx context.Context, id int64) (tree.Ref, bool, error) {
		var ref tree.Ref
		err := q.QueryRowContext(ctx, query, id, viewer.Admin, viewer.UserID).Scan(&ref.ID, &ref.ParentID, &ref.ScopeID)
		if isNoRows(err) {
			return tree.Ref{}, false, nil
		}
		if err != nil {
			return tree.Ref{}, false, err
		}
		return ref, true, nil
	}
}

// validateTree runs the tree rules for one candidate against its table. The
// parent must be visible to viewer; the ancestor walk reads every row.
func validateTree(ctx context.Context, q queryer, kind tree.Kind, table, scopeColumn string, viewer Viewer, candidate tree.Ref) error {
	return tree.ValidateWith(ctx, kind, candidate,
		treeLookup(q, table, scopeColumn, viewer),
		treeLookup(q, table, scopeColumn, Viewer{Admin: true}))
}
