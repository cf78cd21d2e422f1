package store

import (
	"time"

	"taskhub/api/internal/tree"
)

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Viewer limits every query to rows created by UserID unless Admin is set.
type Viewer struct {
	UserID int64
	Admin  bool
}

type Workspace struct {
	ID          int64
	Name        string
	Description string
	IsDefault   bool
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LabelKind selects one of the per-workspace label tables.
type LabelKind string

const (
	LabelTag      LabelKind = "tag"
	LabelPriority LabelKind = "priority"
	LabelStatus   LabelKind = "status"
)

func (k LabelKind) Valid() bool {
	switch k {
	case LabelTag, LabelPriority, LabelStatus:
		return true
	default:
		return false
	}
}

func (k LabelKind) table() string {
	switch k {
	case LabelPriority:
		return "priorities"
	case LabelStatus:
		return "statuses"
	default:
		return "tags"
	}
}

type Label struct {
	ID          int64
	Kind        LabelKind
	WorkspaceID int64
	Name        string
	Description string
	SortOrder   int
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Category struct {
	ID          int64
	WorkspaceID int64
	ParentID    *int64
	Name        string
	Description string
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CategoryRef scopes categories by workspace.
func CategoryRef(c Category) tree.Ref {
	return tree.Ref{ID: c.ID, ParentID: c.ParentID, ScopeID: c.WorkspaceID}
}

// CommentKind describes one of the four comment tables. They share columns
// and differ only in the scope they hang off.
type CommentKind struct {
	Tree        tree.Kind
	table       string
	scopeColumn string
	scopeTable  string
}

var (
	WorkspaceComments = CommentKind{Tree: tree.WorkspaceComment, table: "workspace_comments", scopeColumn: "workspace_id", scopeTable: "workspaces"}
	CategoryComments  = CommentKind{Tree: tree.CategoryComment, table: "category_comments", scopeColumn: "category_id", scopeTable: "categories"}
	ProjectComments   = CommentKind{Tree: tree.ProjectComment, table: "project_comments", scopeColumn: "project_id", scopeTable: "projects"}
	TaskComments      = CommentKind{Tree: tree.TaskComment, table: "task_comments", scopeColumn: "task_id", scopeTable: "tasks"}
)

// CommentKinds lists every comment table.
var CommentKinds = []CommentKind{WorkspaceComments, CategoryComments, ProjectComments, TaskComments}

type Comment struct {
	ID        int64
	ScopeID   int64
	ParentID  *int64
	Content   string
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func CommentRef(c Comment) tree.Ref {
	return tree.Ref{ID: c.ID, ParentID: c.ParentID, ScopeID: c.ScopeID}
}

// ItemKind describes the projects and tasks tables. Tasks additionally carry
// an optional project.
type ItemKind struct {
	Tree       tree.Kind
	table      string
	tagTable   string
	tagColumn  string
	hasProject bool
}

var (
	Projects = ItemKind{Tree: tree.Project, table: "projects", tagTable: "project_tags", tagColumn: "project_id"}
	Tasks    = ItemKind{Tree: tree.Task, table: "tasks", tagTable: "task_tags", tagColumn: "task_id", hasProject: true}
)

type WorkItem struct {
	ID              int64
	UUID            string
	WorkspaceID     int64
	CategoryID      int64
	ProjectID       *int64
	ParentID        *int64
	Title           string
	Detail          string
	StatusID        *int64
	PriorityID      *int64
	TagIDs          []int64
	IsVisible       bool
	EstimatedStart  *time.Time
	EstimatedEnd    *time.Time
	ActualStart     *time.Time
	ActualEnd       *time.Time
	EstimatedEffort *float64
	ActualEffort    *float64
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkItemRef scopes projects and tasks by category.
func WorkItemRef(w WorkItem) tree.Ref {
	return tree.Ref{ID: w.ID, ParentID: w.ParentID, ScopeID: w.CategoryID}
}

// ItemFilter narrows a work item listing. Archived selects hidden items
// instead of visible ones.
type ItemFilter struct {
	CategoryID int64
	ProjectID  *int64
	Archived   bool
}
