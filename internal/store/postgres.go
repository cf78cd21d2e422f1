package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the handle for collaborators that run their own read queries.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, username, email, password_hash, is_admin, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, is_admin)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		strings.TrimSpace(user.Username), strings.ToLower(strings.TrimSpace(user.Email)), user.PasswordHash, user.IsAdmin)
	created, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", mapWriteError(err))
	}
	return created, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return User{}, notFound(err, "user", userID)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1) AND email <> ''`, strings.TrimSpace(email)))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListUsers returns every user for admins and only the viewer otherwise.
func (s *PostgresStore) ListUsers(ctx context.Context, viewer Viewer) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1 OR id = $2)
		ORDER BY id
	`, viewer.Admin, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.is_admin, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const workspaceColumns = `id, name, description, is_default, created_by, created_at, updated_at`

func scanWorkspace(row rowScanner) (Workspace, error) {
	var ws Workspace
	err := row.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.IsDefault, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt)
	return ws, err
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context, viewer Viewer) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE ($1 OR created_by = $2)
		ORDER BY id
	`, viewer.Admin, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, ws)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, viewer Viewer, id int64) (Workspace, error) {
	return getWorkspace(ctx, s.db, viewer, id)
}

func getWorkspace(ctx context.Context, q queryer, viewer Viewer, id int64) (Workspace, error) {
	ws, err := scanWorkspace(q.QueryRowContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE id=$1 AND ($2 OR created_by = $3)
	`, id, viewer.Admin, viewer.UserID))
	if err != nil {
		return Workspace{}, notFound(err, "workspace", id)
	}
	return ws, nil
}

// CreateWorkspace inserts ws owned by ws.CreatedBy. Marking it default clears
// the flag on the owner's other workspaces in the same transaction.
func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws Workspace) (Workspace, error) {
	var created Workspace
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if ws.IsDefault {
			if err := clearDefaultWorkspace(ctx, tx, ws.CreatedBy, 0); err != nil {
				return err
			}
		}
		var err error
		created, err = scanWorkspace(tx.QueryRowContext(ctx, `
			INSERT INTO workspaces (name, description, is_default, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING `+workspaceColumns,
			ws.Name, ws.Description, ws.IsDefault, ws.CreatedBy))
		if err != nil {
			return fmt.Errorf("create workspace: %w", mapWriteError(err))
		}
		return nil
	})
	return created, err
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, viewer Viewer, ws Workspace) (Workspace, error) {
	var updated Workspace
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := getWorkspace(ctx, tx, viewer, ws.ID)
		if err != nil {
			return err
		}
		if ws.IsDefault && !current.IsDefault {
			if err := clearDefaultWorkspace(ctx, tx, current.CreatedBy, ws.ID); err != nil {
				return err
			}
		}
		updated, err = scanWorkspace(tx.QueryRowContext(ctx, `
			UPDATE workspaces
			SET name=$2, description=$3, is_default=$4, updated_at=NOW()
			WHERE id=$1
			RETURNING `+workspaceColumns,
			ws.ID, ws.Name, ws.Description, ws.IsDefault))
		if err != nil {
			return fmt.Errorf("update workspace: %w", mapWriteError(err))
		}
		return nil
	})
	return updated, err
}

func clearDefaultWorkspace(ctx context.Context, tx *sql.Tx, owner, keep int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE workspaces SET is_default=FALSE, updated_at=NOW()
		WHERE created_by=$1 AND id<>$2 AND is_default
	`, owner, keep)
	if err != nil {
		return fmt.Errorf("clear default workspace: %w", err)
	}
	return nil
}

// DeleteWorkspace removes the workspace; foreign keys take every label,
// category, work item and comment under it along.
func (s *PostgresStore) DeleteWorkspace(ctx context.Context, viewer Viewer, id int64) error {
	return deleteOwned(ctx, s.db, "workspaces", "workspace", viewer, id)
}

func deleteOwned(ctx context.Context, q queryer, table, entity string, viewer Viewer, id int64) error {
	result, err := q.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND ($2 OR created_by = $3)`, table),
		id, viewer.Admin, viewer.UserID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", entity, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", entity, err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

// requireVisible fails with NotFoundError unless the row exists and the
// viewer can see it.
func requireVisible(ctx context.Context, q queryer, table, entity string, viewer Viewer, id int64, field string) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id=$1 AND ($2 OR created_by = $3))`, table),
		id, viewer.Admin, viewer.UserID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s %d: %w", entity, id, err)
	}
	if !exists {
		return &NotFoundError{Entity: entity, ID: id, Field: field}
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
