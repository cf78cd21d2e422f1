package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// NotFoundError reports a row that does not exist or that the viewer cannot
// see. Field is set when the id came from a request body field rather than
// from the resource path.
type NotFoundError struct {
	Entity string
	ID     int64
	Field  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return sql.ErrNoRows }

// UniquenessError reports a case-insensitive name collision inside a scope.
type UniquenessError struct {
	Entity     string
	Field      string
	Constraint string
}

func (e *UniquenessError) Error() string {
	return fmt.Sprintf("%s with this %s already exists", e.Entity, e.Field)
}

type uniqueTarget struct {
	entity string
	field  string
}

var uniqueConstraints = map[string]uniqueTarget{
	"unique_lower_user_username":           {entity: "user", field: "username"},
	"unique_lower_user_email":              {entity: "user", field: "email"},
	"unique_lower_workspace_name_user":     {entity: "workspace", field: "name"},
	"unique_lower_tag_name_workspace":      {entity: "tag", field: "name"},
	"unique_lower_priority_name_workspace": {entity: "priority", field: "name"},
	"unique_lower_status_name_workspace":   {entity: "status", field: "name"},
	"unique_lower_category_name_workspace": {entity: "category", field: "name"},
}

// mapWriteError turns unique violations into UniquenessError and leaves every
// other error untouched.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	target, ok := uniqueConstraints[pgErr.ConstraintName]
	if !ok {
		target = uniqueTarget{entity: pgErr.TableName, field: "value"}
	}
	return &UniquenessError{Entity: target.entity, Field: target.field, Constraint: pgErr.ConstraintName}
}

func notFound(err error, entity string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return err
}
