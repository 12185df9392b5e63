package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"scopekeeper/api/internal/views"
)

// provenance columns trail the item's own fields.
var trailingColumns = []string{"owner_id", "created_at"}

// Report is the format-neutral shape handed to the HTML template.
type Report struct {
	Title       string
	WorkspaceID string
	GeneratedAt time.Time
	SourceCount int
	Sections    []ReportSection
}

type ReportSection struct {
	Title   string
	Count   int
	Columns []string
	Rows    [][]string
}

type sectioned interface {
	Sections() []views.NamedSection
}

var reportTitles = map[string]string{
	views.BusinessRequirements: "Business Requirements",
	views.RiskLog:              "RAID Log",
}

// BuildReport lays out every section of a view as a table.
func BuildReport(view string, data any, at time.Time) (Report, error) {
	title, ok := reportTitles[view]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnsupportedView, view)
	}
	src, ok := data.(sectioned)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s has no sections", ErrUnsupportedView, view)
	}

	report := Report{Title: title, GeneratedAt: at.UTC()}
	switch v := data.(type) {
	case *views.BusinessRequirementsView:
		report.WorkspaceID, report.SourceCount = v.WorkspaceID, v.SourceCount
	case *views.RiskLogView:
		report.WorkspaceID, report.SourceCount = v.WorkspaceID, v.SourceCount
	}

	for _, s := range src.Sections() {
		columns := columnsOf(s.Data)
		rows := make([][]string, 0, len(s.Data))
		for _, item := range s.Data {
			row := make([]string, len(columns))
			for i, col := range columns {
				row[i] = cell(item[col])
			}
			rows = append(rows, row)
		}
		report.Sections = append(report.Sections, ReportSection{
			Title:   s.Title,
			Count:   s.Count,
			Columns: columns,
			Rows:    rows,
		})
	}
	return report, nil
}

func columnsOf(items []map[string]any) []string {
	seen := map[string]bool{}
	for _, item := range items {
		for k := range item {
			seen[k] = true
		}
	}
	var columns []string
	for k := range seen {
		if !isTrailing(k) {
			columns = append(columns, k)
		}
	}
	sort.Strings(columns)
	for _, k := range trailingColumns {
		if seen[k] {
			columns = append(columns, k)
		}
	}
	return columns
}

func isTrailing(key string) bool {
	for _, k := range trailingColumns {
		if k == key {
			return true
		}
	}
	return false
}

func cell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, cell(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

// columnLabel turns a snake_case key into a header.
func columnLabel(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
