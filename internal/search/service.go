package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

// RecordLoader reads every searchable row, used for full reindexing.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) (projects, tasks []ItemRecord, comments []CommentRecord, err error)
}

type indexJob struct {
	op  string
	key string
	run func() error
}

// Service tries the external index first and falls back to Postgres.
// Index writes are fire-and-forget; Wait blocks until they finish.
type Service struct {
	primary  Indexer
	fallback Backend
	loader   RecordLoader
	logger   *zap.Logger

	mu       sync.Mutex
	queue    []indexJob
	draining bool
	pending  sync.WaitGroup
}

// NewService wires the backends. primary may be nil when no external
// index is configured.
func NewService(primary Indexer, fallback Backend, loader RecordLoader, logger *zap.Logger) *Service {
	return &Service{
		primary:  primary,
		fallback: fallback,
		loader:   loader,
		logger:   logger.Named("search"),
	}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: s.primary.Name()}
		}
		s.logger.Warn("primary search failed, falling back", zap.String("backend", s.primary.Name()), zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.String("backend", s.fallback.Name()), zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: s.fallback.Name()}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: s.fallback.Name()}
}

// PrimaryStatus reports the external index state for readiness checks:
// "disabled", "ok" or "unavailable".
func (s *Service) PrimaryStatus() string {
	switch {
	case s.primary == nil:
		return "disabled"
	case s.primary.Healthy():
		return "ok"
	default:
		return "unavailable"
	}
}

// async queues an index write. A single worker applies queued writes in
// order, so a delete never lands before an earlier update of the same key.
func (s *Service) async(op string, key string, fn func() error) {
	if !s.primaryReady() {
		return
	}
	s.pending.Add(1)
	s.mu.Lock()
	s.queue = append(s.queue, indexJob{op: op, key: key, run: fn})
	start := !s.draining
	s.draining = true
	s.mu.Unlock()
	if start {
		go s.drain()
	}
}

func (s *Service) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := job.run(); err != nil {
			s.logger.Warn("index update failed", zap.String("op", job.op), zap.String("key", job.key), zap.Error(err))
		}
		s.pending.Done()
	}
}

func (s *Service) IndexItem(t ResultType, rec ItemRecord) {
	s.async("index "+string(t), rec.Key, func() error { return s.primary.IndexItem(t, rec) })
}

func (s *Service) IndexComment(rec CommentRecord) {
	s.async("index comment", rec.Key, func() error { return s.primary.IndexComment(rec) })
}

// Forget removes keys from the index. Callers pass the whole deleted
// subtree since the database cascades below the deleted node.
func (s *Service) Forget(t ResultType, keys ...string) {
	for _, key := range keys {
		key := key
		s.async("delete "+string(t), key, func() error { return s.primary.Delete(t, key) })
	}
}

// Wait blocks until queued index updates have completed.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Reindex rebuilds the external index from Postgres.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.primary == nil {
		return 0, errors.New("no external search index configured")
	}
	if !s.primary.Healthy() {
		return 0, errors.New(s.primary.Name() + " is unavailable")
	}
	projects, tasks, comments, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.primary.Replace(ctx, projects, tasks, comments); err != nil {
		return 0, err
	}
	count := len(projects) + len(tasks) + len(comments)
	s.logger.Info("search index rebuilt",
		zap.Int("projects", len(projects)),
		zap.Int("tasks", len(tasks)),
		zap.Int("comments", len(comments)))
	return count, nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// headline is the first line of content, cut to 80 characters.
func headline(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= 80 {
		return line
	}
	runes := []rune(line)
	return string(runes[:79]) + "…"
}
