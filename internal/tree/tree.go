// Package tree holds the self-referencing tree rules shared by every nested
// entity: comments on workspaces, categories, projects and tasks, categories
// themselves, and projects and tasks.
//
// Entities never embed a common base type. Each one supplies a RefFunc that
// exposes its id, optional parent id and owning scope id, and the validator and
// builder work on that view alone.
package tree

import (
	"context"
	"fmt"
)

// Ref is the scope accessor view of a node.
type Ref struct {
	ID       int64
	ParentID *int64
	ScopeID  int64
}

// RefFunc extracts the Ref of a concrete entity.
type RefFunc[T any] func(T) Ref

// Kind names an entity kind and the container that scopes it.
type Kind struct {
	Name  string
	Scope string
}

var (
	WorkspaceComment = Kind{Name: "workspace comment", Scope: "workspace"}
	Category         = Kind{Name: "category", Scope: "workspace"}
	CategoryComment  = Kind{Name: "category comment", Scope: "category"}
	Project          = Kind{Name: "project", Scope: "category"}
	ProjectComment   = Kind{Name: "project comment", Scope: "project"}
	Task             = Kind{Name: "task", Scope: "category"}
	TaskComment      = Kind{Name: "task comment", Scope: "task"}
)

// Lookup resolves a node of the same kind. found is false when the node does
// not exist or is not visible to the caller.
type Lookup func(ctx context.Context, id int64) (ref Ref, found bool, err error)

// SelfParentError rejects a node that names itself as parent.
type SelfParentError struct {
	Kind Kind
	ID   int64
}

func (e *SelfParentError) Error() string {
	return "parent cannot be the object itself"
}

func (e *SelfParentError) Field() string { return "parent" }

// CrossScopeParentError rejects a parent owned by another container.
type CrossScopeParentError struct {
	Kind          Kind
	ID            int64
	ParentID      int64
	ScopeID       int64
	ParentScopeID int64
}

func (e *CrossScopeParentError) Error() string {
	return fmt.Sprintf("parent must belong to the same %s", e.Kind.Scope)
}

func (e *CrossScopeParentError) Field() string { return "parent" }

// CycleError rejects a parent that is the node itself further up the chain.
type CycleError struct {
	Kind     Kind
	ID       int64
	ParentID int64
}

func (e *CycleError) Error() string {
	return "parent cannot be one of the object's descendants"
}

func (e *CycleError) Field() string { return "parent" }

// ParentNotFoundError reports a parent id that does not resolve.
type ParentNotFoundError struct {
	Kind     Kind
	ParentID int64
}

func (e *ParentNotFoundError) Error() string {
	return fmt.Sprintf("%s %d does not exist", e.Kind.Name, e.ParentID)
}

func (e *ParentNotFoundError) Field() string { return "parent" }

// Validate checks a candidate before it is written. candidate.ID is zero for
// nodes that have not been stored yet. Checks run in order: self parent,
// parent existence, same scope, and for stored nodes an ancestor walk that
// refuses to hang a node below its own subtree.
func Validate(ctx context.Context, kind Kind, candidate Ref, lookup Lookup) error {
	return ValidateWith(ctx, kind, candidate, lookup, lookup)
}

// ValidateWith is Validate with a separate lookup for the ancestor walk.
// lookup resolves the parent as the caller sees it; ancestors must see every
// stored node, otherwise a loop through a row the caller cannot read slips by.
func ValidateWith(ctx context.Context, kind Kind, candidate Ref, lookup, ancestors Lookup) error {
	if candidate.ParentID == nil {
		return nil
	}
	parentID := *candidate.ParentID
	if candidate.ID != 0 && parentID == candidate.ID {
		return &SelfParentError{Kind: kind, ID: candidate.ID}
	}

	parent, found, err := lookup(ctx, parentID)
	if err != nil {
		return fmt.Errorf("lookup %s %d: %w", kind.Name, parentID, err)
	}
	if !found {
		return &ParentNotFoundError{Kind: kind, ParentID: parentID}
	}
	if parent.ScopeID != candidate.ScopeID {
		return &CrossScopeParentError{
			Kind:          kind,
			ID:            candidate.ID,
			ParentID:      parentID,
			ScopeID:       candidate.ScopeID,
			ParentScopeID: parent.ScopeID,
		}
	}
	if candidate.ID == 0 {
		return nil
	}

	seen := map[int64]struct{}{parentID: {}}
	next := parent.ParentID
	for next != nil {
		if *next == candidate.ID {
			return &CycleError{Kind: kind, ID: candidate.ID, ParentID: parentID}
		}
		if _, ok := seen[*next]; ok {
			// stored chain already loops without passing through the candidate
			return &CycleError{Kind: kind, ID: candidate.ID, ParentID: parentID}
		}
		seen[*next] = struct{}{}

		ancestor, found, err := ancestors(ctx, *next)
		if err != nil {
			return fmt.Errorf("lookup %s %d: %w", kind.Name, *next, err)
		}
		if !found {
			return nil
		}
		next = ancestor.ParentID
	}
	return nil
}
