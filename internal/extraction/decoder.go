package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"time"

	"scopekeeper/api/internal/store"
)

// Extraction is the nested object rebuilt from one owner's active rows.
type Extraction struct {
	OwnerID     string         `json:"owner_id"`
	WorkspaceID string         `json:"workspace_id"`
	OrgID       string         `json:"org_id"`
	BatchID     string         `json:"batch_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Data        map[string]any `json:"data"`
	Skipped     []SkippedRow   `json:"skipped,omitempty"`

	lastRowID int64
}

// SkippedRow names a row whose payload could not be decoded.
type SkippedRow struct {
	RowID    int64  `json:"row_id"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// DecodeOptions tunes how singleton groups are rebuilt.
type DecodeOptions struct {
	// CollapseSingletons rebuilds a category with one row as a bare value even
	// when it was written from a one-element list.
	CollapseSingletons bool
}

type categoryGroup struct {
	values []any
	list   bool
	legacy bool
}

// Reconstruct rebuilds one owner's extraction from its active rows. Rows are
// grouped by category in (created_at, id) order: two or more rows become a
// list and a single row becomes a bare value unless it was written from a
// list. Rows without list information always follow the bare-value rule.
func Reconstruct(rows []store.ExtractionRow, opts DecodeOptions) (Extraction, error) {
	if len(rows) == 0 {
		return Extraction{}, ErrNotFound
	}

	ordered := make([]store.ExtractionRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	out := Extraction{
		OwnerID:     ordered[0].OwnerID,
		WorkspaceID: ordered[0].WorkspaceID,
		OrgID:       ordered[0].OrgID,
		Data:        map[string]any{},
	}

	groups := map[string]*categoryGroup{}
	var order []string
	for _, row := range ordered {
		if !row.CreatedAt.Before(out.CreatedAt) {
			out.CreatedAt = row.CreatedAt
			out.BatchID = row.BatchID
			out.CreatedBy = row.CreatedBy
			out.WorkspaceID = row.WorkspaceID
		}
		if row.ID > out.lastRowID {
			out.lastRowID = row.ID
		}
		if row.Kind == store.KindMarker {
			continue
		}

		var value any
		if err := DecodeJSON([]byte(row.Payload), &value); err != nil {
			out.Skipped = append(out.Skipped, SkippedRow{RowID: row.ID, Category: row.Category, Reason: err.Error()})
			continue
		}

		group, ok := groups[row.Category]
		if !ok {
			group = &categoryGroup{}
			groups[row.Category] = group
			order = append(order, row.Category)
		}
		group.values = append(group.values, value)
		switch {
		case row.IsList == nil:
			group.legacy = true
		case *row.IsList:
			group.list = true
		}
	}

	for _, category := range order {
		group := groups[category]
		keepList := group.list && !group.legacy && !opts.CollapseSingletons
		if len(group.values) == 1 && !keepList {
			out.Data[category] = group.values[0]
			continue
		}
		out.Data[category] = group.values
	}
	return out, nil
}

// ReconstructAll splits workspace rows by owner and rebuilds each owner,
// most recent extraction first.
func ReconstructAll(rows []store.ExtractionRow, opts DecodeOptions) []Extraction {
	byOwner := map[string][]store.ExtractionRow{}
	var owners []string
	for _, row := range rows {
		if _, ok := byOwner[row.OwnerID]; !ok {
			owners = append(owners, row.OwnerID)
		}
		byOwner[row.OwnerID] = append(byOwner[row.OwnerID], row)
	}

	out := make([]Extraction, 0, len(owners))
	for _, owner := range owners {
		ext, err := Reconstruct(byOwner[owner], opts)
		if err != nil {
			continue
		}
		out = append(out, ext)
	}
	SortByRecency(out)
	return out
}

// SortByRecency orders extractions newest first, breaking ties on the most
// recently written row.
func SortByRecency(extractions []Extraction) {
	sort.SliceStable(extractions, func(i, j int) bool {
		a, b := extractions[i], extractions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.lastRowID > b.lastRowID
	})
}

// DecodeJSON decodes exactly one JSON value. Numbers are kept as json.Number
// so integers above 2^53 are not rounded through float64.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("invalid data after top-level JSON value")
	}
	return nil
}
