package views

import (
	"sort"
	"time"

	"scopekeeper/api/internal/extraction"
)

var dashboardCategories = []string{"requirements", "risks_issues", "action_items", "decisions", "dependencies", "pain_points"}

// activityKinds lists the categories shown as recent activity, in tie-break
// order, with the field summarised for each.
var activityKinds = []struct {
	category string
	kind     string
	field    string
	icon     string
	color    string
}{
	{"requirements", "requirement", "description", "assignment", "purple"},
	{"action_items", "action", "task", "task_alt", "orange"},
	{"risks_issues", "risk", "description", "warning", "red"},
	{"decisions", "decision", "decision", "gavel", "green"},
}

const summaryLimit = 100

type DashboardSummary struct {
	SourceCount       int `json:"source_count"`
	RequirementsCount int `json:"requirements_count"`
	RisksIssuesCount  int `json:"risks_issues_count"`
	ActionItemsCount  int `json:"action_items_count"`
	DecisionsCount    int `json:"decisions_count"`
	DependenciesCount int `json:"dependencies_count"`
	PainPointsCount   int `json:"pain_points_count"`
}

type Activity struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	Icon        string    `json:"icon"`
	Color       string    `json:"color"`
}

type DashboardView struct {
	WorkspaceID    string           `json:"workspace_id"`
	Summary        DashboardSummary `json:"summary"`
	RecentActivity []Activity       `json:"recent_activity"`
}

func BuildDashboard(c extraction.Consolidated, limit int) *DashboardView {
	if limit <= 0 {
		limit = defaultActivityLimit
	}

	view := &DashboardView{
		WorkspaceID: c.WorkspaceID,
		Summary: DashboardSummary{
			SourceCount:       c.Sources,
			RequirementsCount: len(c.Items("requirements")),
			RisksIssuesCount:  len(c.Items("risks_issues")),
			ActionItemsCount:  len(c.Items("action_items")),
			DecisionsCount:    len(c.Items("decisions")),
			DependenciesCount: len(c.Items("dependencies")),
			PainPointsCount:   len(c.Items("pain_points")),
		},
	}

	activity := make([]Activity, 0)
	for _, kind := range activityKinds {
		for _, item := range c.Items(kind.category) {
			if _, ok := item.Value.(map[string]any); !ok {
				continue
			}
			activity = append(activity, Activity{
				Type:        kind.kind,
				Description: truncate(item.Text(kind.field), summaryLimit),
				OwnerID:     item.OwnerID,
				CreatedAt:   item.CreatedAt,
				Icon:        kind.icon,
				Color:       kind.color,
			})
		}
	}
	sort.SliceStable(activity, func(i, j int) bool {
		return activity[i].CreatedAt.After(activity[j].CreatedAt)
	})
	if len(activity) > limit {
		activity = activity[:limit]
	}
	view.RecentActivity = activity
	return view
}

// truncate shortens s to limit runes and marks the cut with "...".
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
