package search

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopekeeper/api/internal/store"
)

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	results   []Result
	searchErr error
	indexed   []ItemRecord
	deleted   []string
	calls     []string
	lastQuery Query
}

func (f *fakeIndex) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeIndex) setHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

func (f *fakeIndex) Search(q Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) IndexItems(records []ItemRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	for _, r := range records {
		f.calls = append(f.calls, "index "+r.BatchID)
	}
	return nil
}

func (f *fakeIndex) DeleteBatches(_ string, batchIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, batchIDs...)
	for _, id := range batchIDs {
		f.calls = append(f.calls, "delete "+id)
	}
	return nil
}

func (f *fakeIndex) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestService(t *testing.T, idx index, fallback rowSearcher) *Service {
	t.Helper()
	s := newService(idx, fallback, nil, time.Hour)
	t.Cleanup(s.Close)
	return s
}

func itemRow(batchID, text string) store.ExtractionRow {
	return store.ExtractionRow{BatchID: batchID, OwnerID: "M1", WorkspaceID: "W1", OrgID: "O1",
		Kind: store.KindItem, Category: "decisions", Payload: `"` + text + `"`}
}

func sqliteFallback(t *testing.T) *store.SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.SQLite, filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, store.SQLite))

	s := store.NewSQLStore(db, store.SQLite)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	isList := true
	_, err = s.InsertBatch(ctx, []store.ExtractionRow{
		{BatchID: "b1", OwnerID: "M1", WorkspaceID: "W1", OrgID: "O1", Kind: store.KindMarker, Payload: `{}`, CreatedAt: at, CreatedBy: "tester"},
		{BatchID: "b1", OwnerID: "M1", WorkspaceID: "W1", OrgID: "O1", Kind: store.KindItem, Category: "risks_issues",
			Payload: `{"description":"Vendor contract expires","type":"commercial"}`, IsList: &isList, CreatedAt: at, CreatedBy: "tester"},
		{BatchID: "b1", OwnerID: "M1", WorkspaceID: "W1", OrgID: "O1", Kind: store.KindItem, Category: "decisions",
			Payload: `{"decision":"Renew vendor for one year"}`, IsList: &isList, CreatedAt: at, CreatedBy: "tester"},
	})
	require.NoError(t, err)
	return s
}

func TestSearchUsesHealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: true, results: []Result{{ID: "b1-1", Category: "decisions"}}}
	s := newTestService(t, idx, nil)

	resp := s.Search(context.Background(), Query{OrgID: "O1", WorkspaceID: "W1", Text: " vendor "})
	assert.Equal(t, "index", resp.Source)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "vendor", idx.lastQuery.Text)
	assert.Equal(t, 20, idx.lastQuery.Limit)
}

func TestSearchFallsBackToRowStore(t *testing.T) {
	fallback := sqliteFallback(t)

	for name, idx := range map[string]index{
		"no index":        nil,
		"unhealthy index": &fakeIndex{healthy: false},
		"failing index":   &fakeIndex{healthy: true, searchErr: errors.New("timeout")},
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestService(t, idx, fallback)
			resp := s.Search(context.Background(), Query{OrgID: "O1", WorkspaceID: "W1", Text: "vendor"})
			assert.Equal(t, "store", resp.Source)
			assert.Equal(t, 2, resp.Total)
			require.Len(t, resp.Results, 2)
			assert.Equal(t, "M1", resp.Results[0].OwnerID)
		})
	}
}

func TestFallbackFiltersCategoryAndTenant(t *testing.T) {
	s := newTestService(t, nil, sqliteFallback(t))

	resp := s.Search(context.Background(), Query{OrgID: "O1", WorkspaceID: "W1", Text: "vendor", Category: "decisions"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "decisions", resp.Results[0].Category)
	assert.Equal(t, "Renew vendor for one year", resp.Results[0].Snippet)

	resp = s.Search(context.Background(), Query{OrgID: "O2", WorkspaceID: "W1", Text: "vendor"})
	assert.Empty(t, resp.Results)
}

func TestSearchRequiresTextAndScope(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	s := newTestService(t, idx, nil)

	assert.Empty(t, s.Search(context.Background(), Query{OrgID: "O1", WorkspaceID: "W1", Text: "  "}).Results)
	assert.Empty(t, s.Search(context.Background(), Query{WorkspaceID: "W1", Text: "x"}).Results)
	assert.Empty(t, idx.lastQuery.Text)
}

func TestIndexBatchSkipsMarkerRows(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	s := newTestService(t, idx, nil)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s.IndexBatch([]store.ExtractionRow{
		{BatchID: "b1", Kind: store.KindMarker, Payload: `{}`},
		{BatchID: "b1", OwnerID: "M1", WorkspaceID: "W1", OrgID: "O1", Kind: store.KindItem, Category: "decisions",
			Payload: `{"decision":"Go","votes":3,"tags":["a","b"]}`, CreatedAt: at, CreatedBy: "tester"},
	})
	s.Flush()

	require.Len(t, idx.indexed, 1)
	record := idx.indexed[0]
	assert.Equal(t, "b1-1", record.ID)
	assert.Equal(t, "Go a b 3", record.Text)
	assert.Equal(t, at.Unix(), record.CreatedAt)

	s.RemoveBatches("O1", []string{"b1"})
	s.Flush()
	assert.Equal(t, []string{"b1"}, idx.deleted)
}

func TestIndexWritesApplyInSubmissionOrder(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	s := newTestService(t, idx, nil)

	for _, batch := range []string{"b1", "b2", "b3"} {
		s.IndexBatch([]store.ExtractionRow{itemRow(batch, "item")})
		s.RemoveBatches("O1", []string{batch})
	}
	s.Close()

	assert.Equal(t, []string{
		"index b1", "delete b1",
		"index b2", "delete b2",
		"index b3", "delete b3",
	}, idx.history())
}

func TestRemovalsSurviveIndexOutage(t *testing.T) {
	idx := &fakeIndex{healthy: false, results: []Result{
		{ID: "b1-2", BatchID: "b1", Category: "decisions"},
		{ID: "b2-5", BatchID: "b2", Category: "decisions"},
	}}
	s := newTestService(t, idx, nil)

	s.IndexBatch([]store.ExtractionRow{itemRow("b3", "lost")})
	s.RemoveBatches("O1", []string{"b1"})
	s.Flush()
	assert.Empty(t, idx.history())

	idx.setHealthy(true)
	resp := s.Search(context.Background(), Query{OrgID: "O1", WorkspaceID: "W1", Text: "vendor"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b2", resp.Results[0].BatchID)
	assert.Equal(t, 1, resp.Total)

	s.IndexBatch([]store.ExtractionRow{itemRow("b4", "next")})
	s.Flush()
	assert.Equal(t, []string{"delete b1", "index b4"}, idx.history())

	resp = s.Search(context.Background(), Query{OrgID: "O1", WorkspaceID: "W1", Text: "vendor"})
	assert.Len(t, resp.Results, 2)
}

func TestPayloadTextFallsBackToRaw(t *testing.T) {
	assert.Equal(t, "{broken", payloadText("{broken"))
	assert.Equal(t, "plain", payloadText(`"plain"`))
}
