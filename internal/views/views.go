// Package views builds the aggregate views served over consolidated
// extraction categories.
package views

import (
	"fmt"
	"sort"

	"scopekeeper/api/internal/extraction"
)

const (
	BusinessRequirements = "business_requirements"
	RiskLog              = "risk_log"
	Dashboard            = "dashboard"
)

const defaultActivityLimit = 10

// Section is one category of a view with its item count.
type Section struct {
	Count int              `json:"count"`
	Data  []map[string]any `json:"data"`
}

func newSection(items []extraction.Item) Section {
	data := make([]map[string]any, 0, len(items))
	for _, item := range items {
		data = append(data, item.Object())
	}
	return Section{Count: len(data), Data: data}
}

type Options struct {
	// ActivityLimit caps the dashboard's recent activity list.
	ActivityLimit int
}

// Registry resolves view names to their category lists and builders.
type Registry struct {
	activityLimit int
}

func NewRegistry(opts Options) *Registry {
	limit := opts.ActivityLimit
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	return &Registry{activityLimit: limit}
}

func (r *Registry) Names() []string {
	return []string{BusinessRequirements, RiskLog, Dashboard}
}

func (r *Registry) Categories(view string) ([]string, bool) {
	var categories []string
	switch view {
	case BusinessRequirements:
		categories = brdCategories()
	case RiskLog:
		categories = riskLogCategories
	case Dashboard:
		categories = dashboardCategories
	default:
		return nil, false
	}
	out := make([]string, len(categories))
	copy(out, categories)
	return out, true
}

func (r *Registry) Build(view string, consolidated extraction.Consolidated) (any, error) {
	switch view {
	case BusinessRequirements:
		return BuildBusinessRequirements(consolidated), nil
	case RiskLog:
		return BuildRiskLog(consolidated), nil
	case Dashboard:
		return BuildDashboard(consolidated, r.activityLimit), nil
	default:
		return nil, fmt.Errorf("%w: %s", extraction.ErrUnknownView, view)
	}
}

func (r *Registry) New(view string) any {
	switch view {
	case BusinessRequirements:
		return &BusinessRequirementsView{}
	case RiskLog:
		return &RiskLogView{}
	case Dashboard:
		return &DashboardView{}
	default:
		return &map[string]any{}
	}
}

// KeyCount is one bucket of a group-by.
type KeyCount struct {
	Key   string
	Count int
}

// countBy groups object items by a key; missing or empty values count as
// "unknown". Buckets are ordered by count, then key.
func countBy(items []extraction.Item, key string) []KeyCount {
	counts := map[string]int{}
	for _, item := range items {
		value := item.Text(key)
		if value == "" {
			value = "unknown"
		}
		counts[value]++
	}

	out := make([]KeyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, KeyCount{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
