package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// PgFTS searches the generated tsvector columns directly. It is the
// fallback when Meilisearch is not configured or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Name() string { return "postgres" }

// Healthy is always true: without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const (
	tsQuery    = "plainto_tsquery('english', $1)"
	viewerCond = "($2 OR %[1]s.created_by = $3) AND ($4::bigint = 0 OR %[2]s = $4)"
)

func itemSubquery(rtyp ResultType, table string) string {
	return fmt.Sprintf(`
		SELECT '%[1]s'::text AS type, x.id, ''::text AS comment_on, x.id AS scope_id,
			x.workspace_id, x.category_id, x.title,
			ts_headline('english', x.detail, %[3]s, 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(x.fts, %[3]s) AS rank
		FROM %[2]s x
		WHERE x.fts @@ %[3]s AND x.is_visible AND %[4]s`,
		rtyp, table, tsQuery, fmt.Sprintf(viewerCond, "x", "x.workspace_id"))
}

// commentSources describes how each comment table reaches its workspace
// and category.
var commentSources = []struct {
	on        string
	table     string
	join      string
	scope     string
	workspace string
	category  string
}{
	{on: OnWorkspace, table: "workspace_comments", scope: "c.workspace_id", workspace: "c.workspace_id", category: "0::bigint"},
	{on: OnCategory, table: "category_comments", join: "JOIN categories o ON o.id = c.category_id", scope: "c.category_id", workspace: "o.workspace_id", category: "o.id"},
	{on: OnProject, table: "project_comments", join: "JOIN projects o ON o.id = c.project_id", scope: "c.project_id", workspace: "o.workspace_id", category: "o.category_id"},
	{on: OnTask, table: "task_comments", join: "JOIN tasks o ON o.id = c.task_id", scope: "c.task_id", workspace: "o.workspace_id", category: "o.category_id"},
}

func commentSubqueries() []string {
	out := make([]string, 0, len(commentSources))
	for _, src := range commentSources {
		out = append(out, fmt.Sprintf(`
		SELECT 'comment'::text AS type, c.id, '%[1]s'::text AS comment_on, %[2]s AS scope_id,
			%[3]s AS workspace_id, %[4]s AS category_id, left(c.content, 80) AS title,
			ts_headline('english', c.content, %[5]s, 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(c.fts, %[5]s) AS rank
		FROM %[6]s c %[7]s
		WHERE c.fts @@ %[5]s AND %[8]s`,
			src.on, src.scope, src.workspace, src.category, tsQuery, src.table, src.join,
			fmt.Sprintf(viewerCond, "c", src.workspace)))
	}
	return out
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var subQueries []string
	if q.Type == "" || q.Type == ResultProject {
		subQueries = append(subQueries, itemSubquery(ResultProject, "projects"))
	}
	if q.Type == "" || q.Type == ResultTask {
		subQueries = append(subQueries, itemSubquery(ResultTask, "tasks"))
	}
	if q.Type == "" || q.Type == ResultComment {
		subQueries = append(subQueries, commentSubqueries()...)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	args := []any{q.Text, q.Admin, q.UserID, q.WorkspaceID}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, comment_on, scope_id, workspace_id, category_id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d`, union, limit), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.CommentOn, &r.ScopeID, &r.WorkspaceID, &r.CategoryID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads everything searchable for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) (projects, tasks []ItemRecord, comments []CommentRecord, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		projects, err = p.loadItems(ctx, "projects")
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = p.loadItems(ctx, "tasks")
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = p.loadComments(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return projects, tasks, comments, nil
}

func (p *PgFTS) loadItems(ctx context.Context, table string) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title, detail, workspace_id, category_id, created_by, is_visible
		FROM %s ORDER BY id`, table))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	records := make([]ItemRecord, 0)
	for rows.Next() {
		var r ItemRecord
		if err := rows.Scan(&r.ItemID, &r.Title, &r.Detail, &r.WorkspaceID, &r.CategoryID, &r.CreatedBy, &r.IsVisible); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r.Key = ItemKey(r.ItemID)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return records, nil
}

func (p *PgFTS) loadComments(ctx context.Context) ([]CommentRecord, error) {
	records := make([]CommentRecord, 0)
	for _, src := range commentSources {
		rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT c.id, %s, %s, %s, c.content, c.created_by
			FROM %s c %s ORDER BY c.id`, src.scope, src.workspace, src.category, src.table, src.join))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", src.table, err)
		}
		for rows.Next() {
			r := CommentRecord{CommentOn: src.on}
			if err := rows.Scan(&r.CommentID, &r.ScopeID, &r.WorkspaceID, &r.CategoryID, &r.Content, &r.CreatedBy); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s: %w", src.table, err)
			}
			r.Key = CommentKey(src.on, r.CommentID)
			records = append(records, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate %s: %w", src.table, err)
		}
	}
	return records, nil
}

// ItemKey is the index key of a project or task.
func ItemKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// CommentKey is unique across the four comment tables.
func CommentKey(on string, id int64) string {
	return on + "-" + strconv.FormatInt(id, 10)
}
