package extraction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Item is one consolidated element with its provenance. The decoded value is
// never mutated; provenance is merged into a copy on output.
type Item struct {
	Value     any
	OwnerID   string
	CreatedAt time.Time
}

// Object returns the item as a JSON object carrying created_at and owner_id.
// Non-object values are wrapped under "value".
func (i Item) Object() map[string]any {
	var out map[string]any
	if obj, ok := i.Value.(map[string]any); ok {
		out = make(map[string]any, len(obj)+2)
		for k, v := range obj {
			out[k] = v
		}
	} else {
		out = map[string]any{"value": i.Value}
	}
	out["created_at"] = i.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["owner_id"] = i.OwnerID
	return out
}

func (i Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Object())
}

// Field returns a top-level key of an object item.
func (i Item) Field(key string) (any, bool) {
	obj, ok := i.Value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok
}

// Text returns a key as display text; missing or null keys yield "".
func (i Item) Text(key string) string {
	v, ok := i.Field(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Consolidated holds every requested category of a workspace flattened into
// one list, newest extraction first.
type Consolidated struct {
	WorkspaceID string            `json:"workspace_id"`
	OrgID       string            `json:"org_id"`
	Categories  map[string][]Item `json:"categories"`
	Sources     int               `json:"source_count"`
	Skipped     int               `json:"skipped_rows"`
}

// Items returns the consolidated list for a category, nil when absent.
func (c Consolidated) Items(category string) []Item {
	return c.Categories[category]
}

// Consolidate merges the given extractions into per-category lists. A list
// value contributes each element, any other value contributes itself and an
// absent category contributes nothing. With no categories, every category
// found is included.
func Consolidate(workspaceID, orgID string, extractions []Extraction, categories []string) Consolidated {
	ordered := make([]Extraction, len(extractions))
	copy(ordered, extractions)
	SortByRecency(ordered)

	out := Consolidated{
		WorkspaceID: workspaceID,
		OrgID:       orgID,
		Categories:  map[string][]Item{},
		Sources:     len(ordered),
	}

	wanted := categories
	if len(wanted) == 0 {
		seen := map[string]bool{}
		for _, ext := range ordered {
			for category := range ext.Data {
				if !seen[category] {
					seen[category] = true
					wanted = append(wanted, category)
				}
			}
		}
		sort.Strings(wanted)
	}

	for _, category := range wanted {
		out.Categories[category] = []Item{}
	}

	for _, ext := range ordered {
		out.Skipped += len(ext.Skipped)
		for _, category := range wanted {
			value, ok := ext.Data[category]
			if !ok {
				continue
			}
			if list, ok := value.([]any); ok {
				for _, element := range list {
					out.Categories[category] = append(out.Categories[category], Item{
						Value: element, OwnerID: ext.OwnerID, CreatedAt: ext.CreatedAt,
					})
				}
				continue
			}
			out.Categories[category] = append(out.Categories[category], Item{
				Value: value, OwnerID: ext.OwnerID, CreatedAt: ext.CreatedAt,
			})
		}
	}
	return out
}
