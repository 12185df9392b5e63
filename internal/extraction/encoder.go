package extraction

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"

	"scopekeeper/api/internal/store"
)

// BatchMeta is shared by every row written for one extraction event.
type BatchMeta struct {
	BatchID     string
	OwnerID     string
	WorkspaceID string
	OrgID       string
	CreatedBy   string
	CreatedAt   time.Time
}

type markerPayload struct {
	Categories map[string]int `json:"categories"`
}

// Flatten turns an extraction payload into rows: one per list element, one
// for any other value, plus a marker row describing the batch. Categories are
// emitted in sorted order so row ids are reproducible. An empty list emits no
// row, so it reads back as absent.
func Flatten(meta BatchMeta, payload map[string]any) ([]store.ExtractionRow, error) {
	digest, err := Digest(meta.WorkspaceID, payload)
	if err != nil {
		return nil, err
	}

	categories := make([]string, 0, len(payload))
	for category := range payload {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	marker := markerPayload{Categories: make(map[string]int, len(categories))}
	rows := make([]store.ExtractionRow, 0, len(categories)+1)
	rows = append(rows, newRow(meta, store.KindMarker, "", "", nil, digest))

	for _, category := range categories {
		value := payload[category]
		if items, ok := listItems(value); ok {
			isList := true
			for _, item := range items {
				encoded, err := encodeValue(item)
				if err != nil {
					return nil, fmt.Errorf("encode %s item: %w", category, err)
				}
				rows = append(rows, newRow(meta, store.KindItem, category, encoded, &isList, digest))
			}
			marker.Categories[category] = len(items)
			continue
		}

		encoded, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", category, err)
		}
		isList := false
		rows = append(rows, newRow(meta, store.KindItem, category, encoded, &isList, digest))
		marker.Categories[category] = 1
	}

	encodedMarker, err := encodeValue(marker)
	if err != nil {
		return nil, fmt.Errorf("encode batch marker: %w", err)
	}
	rows[0].Payload = encodedMarker
	return rows, nil
}

// listItems reports whether value is a JSON list and returns its elements.
func listItems(value any) ([]any, bool) {
	switch v := value.(type) {
	case nil, []byte, json.RawMessage:
		return nil, false
	case []any:
		return v, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func newRow(meta BatchMeta, kind, category, payload string, isList *bool, digest string) store.ExtractionRow {
	return store.ExtractionRow{
		BatchID:     meta.BatchID,
		OwnerID:     meta.OwnerID,
		WorkspaceID: meta.WorkspaceID,
		OrgID:       meta.OrgID,
		Kind:        kind,
		Category:    category,
		Payload:     payload,
		IsList:      isList,
		Digest:      digest,
		Status:      store.StatusActive,
		CreatedAt:   meta.CreatedAt,
		CreatedBy:   meta.CreatedBy,
	}
}

func encodeValue(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Digest fingerprints a payload for one workspace. Map keys are marshalled in
// sorted order, so equal payloads always hash equally.
func Digest(workspaceID string, payload map[string]any) (string, error) {
	encoded, err := encodeValue(struct {
		WorkspaceID string         `json:"workspace_id"`
		Payload     map[string]any `json:"payload"`
	}{workspaceID, payload})
	if err != nil {
		return "", fmt.Errorf("encode payload digest: %w", err)
	}
	sum := blake2b.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:]), nil
}
