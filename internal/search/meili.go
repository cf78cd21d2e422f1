package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	idxProjects = "taskhub_projects"
	idxTasks    = "taskhub_tasks"
	idxComments = "taskhub_comments"
)

type indexSpec struct {
	uid        string
	rtyp       ResultType
	filterable []string
	searchable []string
}

var meiliIndexes = []indexSpec{
	{
		uid:        idxProjects,
		rtyp:       ResultProject,
		filterable: []string{"workspaceId", "categoryId", "createdBy", "isVisible"},
		searchable: []string{"title", "detail"},
	},
	{
		uid:        idxTasks,
		rtyp:       ResultTask,
		filterable: []string{"workspaceId", "categoryId", "createdBy", "isVisible"},
		searchable: []string{"title", "detail"},
	},
	{
		uid:        idxComments,
		rtyp:       ResultComment,
		filterable: []string{"workspaceId", "categoryId", "createdBy", "commentOn"},
		searchable: []string{"content"},
	},
}

// Meili implements Indexer via Meilisearch. A background loop tracks
// health and reconfigures indexes when the server comes back.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.Named("meili"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) Name() string { return "meilisearch" }

func (m *Meili) configureIndexes() {
	for _, idx := range meiliIndexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			m.logger.Debug("create index", zap.String("index", idx.uid), zap.Error(err))
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.logger.Warn("update searchable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	queries := buildMultiSearch(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func buildMultiSearch(q Query) []*meili.SearchRequest {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, idx := range meiliIndexes {
		if q.Type != "" && q.Type != idx.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 limit,
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if filters := meiliFilters(q, idx.rtyp); len(filters) > 0 {
			sr.Filter = filters
		}
		queries = append(queries, sr)
	}
	return queries
}

func meiliFilters(q Query, rtyp ResultType) []string {
	var filters []string
	if !q.Admin {
		filters = append(filters, fmt.Sprintf("createdBy = %d", q.UserID))
	}
	if q.WorkspaceID != 0 {
		filters = append(filters, fmt.Sprintf("workspaceId = %d", q.WorkspaceID))
	}
	if rtyp != ResultComment {
		filters = append(filters, "isVisible = true")
	}
	return filters
}

func indexToResultType(uid string) ResultType {
	for _, idx := range meiliIndexes {
		if idx.uid == uid {
			return idx.rtyp
		}
	}
	return ""
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{
		Type:        rtyp,
		WorkspaceID: decodeInt(hit, "workspaceId"),
		CategoryID:  decodeInt(hit, "categoryId"),
	}
	switch rtyp {
	case ResultComment:
		r.ID = decodeInt(hit, "commentId")
		r.CommentOn = decodeString(hit, "commentOn")
		r.ScopeID = decodeInt(hit, "scopeId")
		content := decodeString(hit, "content")
		r.Title = headline(content)
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), content)
	default:
		r.ID = decodeInt(hit, "itemId")
		r.ScopeID = r.ID
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "detail"), decodeString(hit, "detail"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func itemIndex(t ResultType) (string, error) {
	switch t {
	case ResultProject:
		return idxProjects, nil
	case ResultTask:
		return idxTasks, nil
	case ResultComment:
		return idxComments, nil
	default:
		return "", fmt.Errorf("no index for result type %q", t)
	}
}

func (m *Meili) IndexItem(t ResultType, rec ItemRecord) error {
	uid, err := itemIndex(t)
	if err != nil {
		return err
	}
	_, err = m.client.Index(uid).AddDocuments([]ItemRecord{rec}, nil)
	return err
}

func (m *Meili) IndexComment(rec CommentRecord) error {
	_, err := m.client.Index(idxComments).AddDocuments([]CommentRecord{rec}, nil)
	return err
}

func (m *Meili) Delete(t ResultType, key string) error {
	uid, err := itemIndex(t)
	if err != nil {
		return err
	}
	_, err = m.client.Index(uid).DeleteDocument(key, nil)
	return err
}

// Replace drops every index and refills it. Meilisearch processes tasks
// in enqueue order, so the deletes land before the new documents.
func (m *Meili) Replace(_ context.Context, projects, tasks []ItemRecord, comments []CommentRecord) error {
	for _, idx := range meiliIndexes {
		if _, err := m.client.DeleteIndex(idx.uid); err != nil {
			m.logger.Debug("delete index", zap.String("index", idx.uid), zap.Error(err))
		}
	}
	m.configureIndexes()

	if len(projects) > 0 {
		if _, err := m.client.Index(idxProjects).AddDocuments(projects, nil); err != nil {
			return fmt.Errorf("index projects: %w", err)
		}
	}
	if len(tasks) > 0 {
		if _, err := m.client.Index(idxTasks).AddDocuments(tasks, nil); err != nil {
			return fmt.Errorf("index tasks: %w", err)
		}
	}
	if len(comments) > 0 {
		if _, err := m.client.Index(idxComments).AddDocuments(comments, nil); err != nil {
			return fmt.Errorf("index comments: %w", err)
		}
	}
	return nil
}
