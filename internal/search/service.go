package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"scopekeeper/api/internal/metrics"
	"scopekeeper/api/internal/store"
)

// index is the part of Meili the service drives.
type index interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexItems(records []ItemRecord) error
	DeleteBatches(orgID string, batchIDs []string) error
}

// rowSearcher is the substring fallback over the row store.
type rowSearcher interface {
	SearchRows(ctx context.Context, orgID, workspaceID, query string, limit int) ([]store.ExtractionRow, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// row store. Index writes are applied in submission order by one worker.
type Service struct {
	index    index
	fallback rowSearcher
	logger   *zap.Logger

	ops        chan indexOp
	done       chan struct{}
	retryEvery time.Duration
	closeOnce  sync.Once

	// pending holds batch removals not yet applied to the index, keyed by
	// org. Hits from those batches are dropped from index results.
	mu      sync.Mutex
	pending map[string]map[string]struct{}
}

// indexOp is one queued index write. A non-nil flushed channel marks a
// barrier that is closed once every earlier op has been handled.
type indexOp struct {
	records []ItemRecord
	orgID   string
	remove  []string
	flushed chan struct{}
}

const (
	opQueueSize        = 256
	pendingRetryPeriod = 15 * time.Second
)

// NewService creates a search service and starts its index worker. meili may
// be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback rowSearcher, logger *zap.Logger) *Service {
	var idx index
	if meili != nil {
		idx = meili
	}
	return newService(idx, fallback, logger, pendingRetryPeriod)
}

func newService(idx index, fallback rowSearcher, logger *zap.Logger, retryEvery time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		index:      idx,
		fallback:   fallback,
		logger:     logger,
		ops:        make(chan indexOp, opQueueSize),
		done:       make(chan struct{}),
		retryEvery: retryEvery,
		pending:    map[string]map[string]struct{}{},
	}
	go s.run()
	return s
}

// Close drains queued index writes and stops the worker.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.ops) })
	<-s.done
}

// Flush blocks until every index write queued before it has been handled.
func (s *Service) Flush() {
	flushed := make(chan struct{})
	s.ops <- indexOp{flushed: flushed}
	<-flushed
}

// Search tries Meilisearch if healthy, otherwise falls back to the row store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Text == "" || q.OrgID == "" || q.WorkspaceID == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			results, dropped := s.withoutPending(q.OrgID, results)
			return Response{Results: nonNil(results), Total: total - dropped, Query: q.Text, Source: "index"}
		}
		s.logger.Warn("meilisearch error, falling back to row store", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	metrics.SearchFallbacks.Inc()
	rows, err := s.fallback.SearchRows(ctx, q.OrgID, q.WorkspaceID, q.Text, q.Limit+q.Offset)
	if err != nil {
		s.logger.Error("row store search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Source: "store"}
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		if q.Category != "" && row.Category != q.Category {
			continue
		}
		results = append(results, Result{
			ID:          row.BatchID + "-" + itoa(row.ID),
			BatchID:     row.BatchID,
			OwnerID:     row.OwnerID,
			WorkspaceID: row.WorkspaceID,
			Category:    row.Category,
			Snippet:     snippet(payloadText(row.Payload), 240),
			CreatedAt:   row.CreatedAt,
		})
	}
	total := len(results)
	if q.Offset >= len(results) {
		results = []Result{}
	} else {
		results = results[q.Offset:]
	}
	return Response{Results: results, Total: total, Query: q.Text, Source: "store"}
}

// IndexBatch queues the item rows of a batch for indexing.
func (s *Service) IndexBatch(rows []store.ExtractionRow) {
	if s.index == nil {
		return
	}
	records := RecordsFromRows(rows)
	if len(records) == 0 {
		return
	}
	s.ops <- indexOp{records: records}
}

// RemoveBatches queues superseded or deleted batches for removal from the
// index. Removals survive an index outage and are applied once it recovers.
func (s *Service) RemoveBatches(orgID string, batchIDs []string) {
	if s.index == nil || len(batchIDs) == 0 {
		return
	}
	s.ops <- indexOp{orgID: orgID, remove: append([]string(nil), batchIDs...)}
}

func (s *Service) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case op, ok := <-s.ops:
			if !ok {
				s.applyPending()
				return
			}
			s.apply(op)
		case <-ticker.C:
			s.applyPending()
		}
	}
}

func (s *Service) apply(op indexOp) {
	if len(op.remove) > 0 {
		s.mu.Lock()
		batches := s.pending[op.orgID]
		if batches == nil {
			batches = map[string]struct{}{}
			s.pending[op.orgID] = batches
		}
		for _, id := range op.remove {
			batches[id] = struct{}{}
		}
		s.mu.Unlock()
	}
	// Removals queued earlier are applied before anything newer is indexed.
	s.applyPending()

	switch {
	case op.flushed != nil:
		close(op.flushed)
	case len(op.records) > 0:
		if !s.index.Healthy() {
			metrics.SearchIndexSkipped.Inc()
			s.logger.Warn("index unhealthy, extraction items not indexed", zap.Int("items", len(op.records)))
			return
		}
		if err := s.index.IndexItems(op.records); err != nil {
			metrics.SearchIndexSkipped.Inc()
			s.logger.Warn("index extraction items", zap.Int("items", len(op.records)), zap.Error(err))
		}
	}
}

// applyPending deletes every pending removal from a healthy index.
func (s *Service) applyPending() {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.mu.Lock()
	work := make(map[string][]string, len(s.pending))
	for orgID, batches := range s.pending {
		ids := make([]string, 0, len(batches))
		for id := range batches {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		work[orgID] = ids
	}
	s.mu.Unlock()

	for orgID, ids := range work {
		if err := s.index.DeleteBatches(orgID, ids); err != nil {
			s.logger.Warn("remove batches from index", zap.Strings("batch_ids", ids), zap.Error(err))
			continue
		}
		s.mu.Lock()
		for _, id := range ids {
			delete(s.pending[orgID], id)
		}
		if len(s.pending[orgID]) == 0 {
			delete(s.pending, orgID)
		}
		s.mu.Unlock()
	}
}

// withoutPending drops index hits that belong to batches still waiting for
// removal.
func (s *Service) withoutPending(orgID string, results []Result) ([]Result, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches := s.pending[orgID]
	if len(batches) == 0 {
		return results, 0
	}
	kept := results[:0:0]
	for _, r := range results {
		if _, gone := batches[r.BatchID]; !gone {
			kept = append(kept, r)
		}
	}
	return kept, len(results) - len(kept)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
