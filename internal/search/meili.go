package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxItems = "extraction_items"

// Meili indexes extraction items in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the item index. The
// client is returned even when the first health check fails; a background
// loop picks it up once the server answers.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxItems,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxItems), zap.Error(err))
	}

	index := m.client.Index(idxItems)
	filterable := []interface{}{"org_id", "workspace_id", "owner_id", "batch_id", "category"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxItems), zap.Error(err))
	}
	searchable := []string{"text", "category"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxItems), zap.Error(err))
	}
	sortable := []string{"created_at"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn("update sortable attributes", zap.String("index", idxItems), zap.Error(err))
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
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the item index inside one org and workspace.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	filters := []string{
		fmt.Sprintf("org_id = %q", q.OrgID),
		fmt.Sprintf("workspace_id = %q", q.WorkspaceID),
	}
	if q.Category != "" {
		filters = append(filters, fmt.Sprintf("category = %q", q.Category))
	}

	resp, err := m.client.Index(idxItems).Search(q.Text, &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		Filter:                strings.Join(filters, " AND "),
		AttributesToHighlight: []string{"text"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:          decodeString(hit, "id"),
		BatchID:     decodeString(hit, "batch_id"),
		OwnerID:     decodeString(hit, "owner_id"),
		WorkspaceID: decodeString(hit, "workspace_id"),
		Category:    decodeString(hit, "category"),
	}
	r.Snippet = snippet(firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text")), 240)
	if raw, ok := hit["created_at"]; ok {
		var ts int64
		if err := json.Unmarshal(raw, &ts); err == nil {
			r.CreatedAt = time.Unix(ts, 0).UTC()
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
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

// IndexItems adds or replaces item documents.
func (m *Meili) IndexItems(records []ItemRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxItems).AddDocuments(records, nil)
	return err
}

// DeleteBatches removes every document of the given batches in one org.
func (m *Meili) DeleteBatches(orgID string, batchIDs []string) error {
	if len(batchIDs) == 0 {
		return nil
	}
	quoted := make([]string, len(batchIDs))
	for i, id := range batchIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	filter := fmt.Sprintf("org_id = %q AND batch_id IN [%s]", orgID, strings.Join(quoted, ", "))
	_, err := m.client.Index(idxItems).DeleteDocumentsByFilter(filter, nil)
	return err
}
