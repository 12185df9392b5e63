package search

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"scopekeeper/api/internal/extraction"
	"scopekeeper/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string    `json:"id"`
	BatchID     string    `json:"batch_id"`
	OwnerID     string    `json:"owner_id"`
	WorkspaceID string    `json:"workspace_id"`
	Category    string    `json:"category"`
	Snippet     string    `json:"snippet"`
	CreatedAt   time.Time `json:"created_at"`
}

// Query describes a search request. OrgID and WorkspaceID are mandatory.
type Query struct {
	OrgID       string
	WorkspaceID string
	Text        string
	Category    string
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// ItemRecord is the document indexed for one item row.
type ItemRecord struct {
	ID          string `json:"id"`
	BatchID     string `json:"batch_id"`
	OwnerID     string `json:"owner_id"`
	WorkspaceID string `json:"workspace_id"`
	OrgID       string `json:"org_id"`
	Category    string `json:"category"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"created_at"`
}

// RecordsFromRows builds index documents for the item rows of a batch. Ids
// are the batch id plus the row's position, so they stay stable across
// re-indexing of the same batch.
func RecordsFromRows(rows []store.ExtractionRow) []ItemRecord {
	records := make([]ItemRecord, 0, len(rows))
	for i, row := range rows {
		if row.Kind != store.KindItem {
			continue
		}
		records = append(records, ItemRecord{
			ID:          fmt.Sprintf("%s-%d", row.BatchID, i),
			BatchID:     row.BatchID,
			OwnerID:     row.OwnerID,
			WorkspaceID: row.WorkspaceID,
			OrgID:       row.OrgID,
			Category:    row.Category,
			Text:        payloadText(row.Payload),
			CreatedAt:   row.CreatedAt.Unix(),
		})
	}
	return records
}

// payloadText collects the string leaves of a JSON payload, keys sorted.
func payloadText(payload string) string {
	var value any
	if err := extraction.DecodeJSON([]byte(payload), &value); err != nil {
		return payload
	}
	var parts []string
	collectText(value, &parts)
	return strings.Join(parts, " ")
}

func collectText(value any, parts *[]string) {
	switch v := value.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			*parts = append(*parts, s)
		}
	case json.Number, float64, bool:
		*parts = append(*parts, fmt.Sprint(v))
	case []any:
		for _, item := range v {
			collectText(item, parts)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(v[k], parts)
		}
	}
}

func snippet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func itoa(n int64) string {
	return fmt.Sprintf("%d", n)
}
