package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/authpw"
	"taskhub/api/internal/session"
	"taskhub/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// fieldError is a 422 with a single field message.
func fieldError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string][]string{field: {message}})
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func notFoundError() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// fielder is implemented by the tree validation errors.
type fielder interface {
	error
	Field() string
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var invalid *authpw.ValidationError
	if errors.As(err, &invalid) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", invalid.Error(), invalid.Fields
	}
	if errors.Is(err, authpw.ErrEmailTaken) {
		return validation("email", "user with this email already exists")
	}
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	}

	var treeErr fielder
	if errors.As(err, &treeErr) {
		return validation(treeErr.Field(), treeErr.Error())
	}
	var unique *store.UniquenessError
	if errors.As(err, &unique) {
		return validation(unique.Field, unique.Error())
	}
	var missing *store.NotFoundError
	if errors.As(err, &missing) && missing.Field != "" {
		return validation(missing.Field, missing.Error())
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}

	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func validation(field, message string) (int, string, string, any) {
	return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string][]string{field: {message}}
}
