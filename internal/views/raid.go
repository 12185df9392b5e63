package views

import "scopekeeper/api/internal/extraction"

var riskLogCategories = []string{"risks_issues", "action_items", "decisions", "dependencies", "pain_points"}

type StatusCount struct {
	ItemStatus string `json:"item_status"`
	Count      int    `json:"count"`
}

type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// RiskLogView is the risks, actions, issues and decisions log of a workspace.
type RiskLogView struct {
	WorkspaceID     string        `json:"workspace_id"`
	SourceCount     int           `json:"source_count"`
	RisksIssues     Section       `json:"risks_issues"`
	ActionItems     Section       `json:"action_items"`
	Decisions       Section       `json:"decisions"`
	Dependencies    Section       `json:"dependencies"`
	PainPoints      Section       `json:"pain_points"`
	ActionStatus    []StatusCount `json:"action_status"`
	RiskTypes       []TypeCount   `json:"risk_types"`
	DependencyTypes []TypeCount   `json:"dependency_types"`
}

func (v *RiskLogView) Sections() []NamedSection {
	return []NamedSection{
		{"risks_issues", "Risks & Issues", v.RisksIssues},
		{"action_items", "Action Items", v.ActionItems},
		{"decisions", "Decisions", v.Decisions},
		{"dependencies", "Dependencies", v.Dependencies},
		{"pain_points", "Pain Points", v.PainPoints},
	}
}

// Section returns one log section by key.
func (v *RiskLogView) Section(key string) (Section, bool) {
	for _, s := range v.Sections() {
		if s.Key == key {
			return s.Section, true
		}
	}
	return Section{}, false
}

func BuildRiskLog(c extraction.Consolidated) *RiskLogView {
	view := &RiskLogView{
		WorkspaceID:  c.WorkspaceID,
		SourceCount:  c.Sources,
		RisksIssues:  newSection(c.Items("risks_issues")),
		ActionItems:  newSection(c.Items("action_items")),
		Decisions:    newSection(c.Items("decisions")),
		Dependencies: newSection(c.Items("dependencies")),
		PainPoints:   newSection(c.Items("pain_points")),
	}

	view.ActionStatus = make([]StatusCount, 0)
	for _, kc := range countBy(c.Items("action_items"), "item_status") {
		view.ActionStatus = append(view.ActionStatus, StatusCount{ItemStatus: kc.Key, Count: kc.Count})
	}
	view.RiskTypes = typeCounts(c.Items("risks_issues"))
	view.DependencyTypes = typeCounts(c.Items("dependencies"))
	return view
}

func typeCounts(items []extraction.Item) []TypeCount {
	out := make([]TypeCount, 0)
	for _, kc := range countBy(items, "type") {
		out = append(out, TypeCount{Type: kc.Key, Count: kc.Count})
	}
	return out
}
