package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject ResultType = "project"
	ResultTask    ResultType = "task"
	ResultComment ResultType = "comment"
)

func (t ResultType) Valid() bool {
	switch t {
	case "", ResultProject, ResultTask, ResultComment:
		return true
	default:
		return false
	}
}

// Comment owners, as stored in CommentRecord.CommentOn.
const (
	OnWorkspace = "workspace"
	OnCategory  = "category"
	OnProject   = "project"
	OnTask      = "task"
)

// Result is a single search hit. ScopeID is the item itself for projects
// and tasks and the owning object for comments.
type Result struct {
	Type        ResultType `json:"type"`
	ID          int64      `json:"id"`
	CommentOn   string     `json:"commentOn,omitempty"`
	ScopeID     int64      `json:"scopeId"`
	WorkspaceID int64      `json:"workspaceId"`
	CategoryID  int64      `json:"categoryId,omitempty"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
}

// Query describes a search request. Non-admin queries only match rows
// created by UserID. WorkspaceID zero searches every visible workspace.
type Query struct {
	Text        string
	Type        ResultType
	WorkspaceID int64
	UserID      int64
	Admin       bool
	Limit       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Backend executes a full-text search.
type Backend interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer pushes records into an external index.
type Indexer interface {
	Backend
	IndexItem(t ResultType, rec ItemRecord) error
	IndexComment(rec CommentRecord) error
	Delete(t ResultType, key string) error
	Replace(ctx context.Context, projects, tasks []ItemRecord, comments []CommentRecord) error
}

// ItemRecord is what gets indexed for a project or task.
type ItemRecord struct {
	Key         string `json:"id"`
	ItemID      int64  `json:"itemId"`
	Title       string `json:"title"`
	Detail      string `json:"detail"`
	WorkspaceID int64  `json:"workspaceId"`
	CategoryID  int64  `json:"categoryId"`
	CreatedBy   int64  `json:"createdBy"`
	IsVisible   bool   `json:"isVisible"`
}

// CommentRecord is what gets indexed for a comment of any owner kind.
type CommentRecord struct {
	Key         string `json:"id"`
	CommentID   int64  `json:"commentId"`
	CommentOn   string `json:"commentOn"`
	ScopeID     int64  `json:"scopeId"`
	WorkspaceID int64  `json:"workspaceId"`
	CategoryID  int64  `json:"categoryId"`
	Content     string `json:"content"`
	CreatedBy   int64  `json:"createdBy"`
}
