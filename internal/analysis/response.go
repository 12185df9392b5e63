package analysis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"scopekeeper/api/internal/extraction"
)

// versionedKeys maps the numbered sections of the extraction prompt to the
// category names stored downstream. Models sometimes vary the suffix
// ("V6_risks_and_issues"), so only the number is matched.
var versionedKeys = map[int]string{
	1:  "bu_teams",
	2:  "modules_processes",
	3:  "licenses",
	4:  "personas",
	5:  "requirements",
	6:  "risks_issues",
	7:  "action_items",
	8:  "decisions",
	9:  "dependencies",
	10: "pain_points",
	11: "current_state",
	12: "target_state",
	13: "integrations",
	14: "data_migration",
	15: "data_model",
	16: "metadata_updates",
	17: "scope_summary",
	18: "assumptions_gaps",
	19: "source_references",
	20: "validation_summary",
}

var versionedKey = regexp.MustCompile(`^[Vv](\d+)_`)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ParseResponse extracts the JSON object from a model answer, which may be
// wrapped in a markdown fence or surrounded by prose, and normalizes its keys.
func ParseResponse(content string) (map[string]any, error) {
	raw := strings.TrimSpace(content)
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(raw, "{") {
		start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, ErrInvalidResponse
		}
		raw = raw[start : end+1]
	}

	var payload map[string]any
	if err := extraction.DecodeJSON([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if payload == nil {
		return nil, ErrInvalidResponse
	}
	return NormalizeKeys(payload), nil
}

// NormalizeKeys renames numbered prompt sections and "document_metadata" to
// their category names. Unknown keys pass through unchanged.
func NormalizeKeys(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[categoryName(key)] = value
	}
	return out
}

func categoryName(key string) string {
	if key == "document_metadata" {
		return "metadata"
	}
	if m := versionedKey.FindStringSubmatch(key); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if name, ok := versionedKeys[n]; ok {
				return name
			}
		}
		return strings.TrimPrefix(key, m[0])
	}
	return key
}
