package views

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopekeeper/api/internal/extraction"
)

var (
	day1 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

func item(owner string, at time.Time, value any) extraction.Item {
	return extraction.Item{Value: value, OwnerID: owner, CreatedAt: at}
}

func riskLogFixture() extraction.Consolidated {
	return extraction.Consolidated{
		WorkspaceID: "W1",
		OrgID:       "O1",
		Sources:     2,
		Categories: map[string][]extraction.Item{
			"risks_issues": {
				item("M2", day2, map[string]any{"id": "K1", "type": "technical"}),
				item("M1", day1, map[string]any{"id": "K2"}),
			},
			"action_items": {
				item("M1", day1, map[string]any{"id": "A1", "item_status": "open", "task": "Send notes"}),
			},
		},
	}
}

func TestRiskLogGolden(t *testing.T) {
	view := BuildRiskLog(riskLogFixture())

	raw, err := json.MarshalIndent(view, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "risk_log", append(raw, '\n'))
}

func TestRiskLogGroupBys(t *testing.T) {
	c := extraction.Consolidated{Categories: map[string][]extraction.Item{
		"action_items": {
			item("M1", day1, map[string]any{"item_status": "open"}),
			item("M1", day1, map[string]any{"item_status": "done"}),
			item("M2", day2, map[string]any{"item_status": "open"}),
			item("M2", day2, map[string]any{"task": "no status"}),
		},
		"dependencies": {
			item("M1", day1, map[string]any{"type": "vendor"}),
			item("M1", day1, "bare string"),
		},
	}}

	view := BuildRiskLog(c)
	assert.Equal(t, []StatusCount{{"open", 2}, {"done", 1}, {"unknown", 1}}, view.ActionStatus)
	assert.Equal(t, []TypeCount{{"unknown", 1}, {"vendor", 1}}, view.DependencyTypes)
	assert.Empty(t, view.RiskTypes)
	assert.Equal(t, 4, view.ActionItems.Count)

	section, ok := view.Section("dependencies")
	require.True(t, ok)
	assert.Equal(t, "bare string", section.Data[1]["value"])
	_, ok = view.Section("nope")
	assert.False(t, ok)
}

func TestBusinessRequirementsMapsCategoriesToSections(t *testing.T) {
	c := extraction.Consolidated{
		WorkspaceID: "W1",
		Sources:     1,
		Categories: map[string][]extraction.Item{
			"bu_teams":     {item("M1", day1, map[string]any{"name": "Finance"})},
			"licenses":     {item("M1", day1, map[string]any{"name": "CRM"}), item("M1", day1, map[string]any{"name": "ERP"})},
			"integrations": {item("M1", day1, map[string]any{"name": "SAP"})},
			"requirements": {item("M1", day1, map[string]any{"description": "SSO"})},
		},
	}

	view := BuildBusinessRequirements(c)
	assert.Equal(t, 1, view.BusinessUnitsTeams.Count)
	assert.Equal(t, 2, view.LicenseList.Count)
	assert.Equal(t, 1, view.ApplicationsToIntegrate.Count)
	assert.Equal(t, 1, view.Requirements.Count)
	assert.Equal(t, 0, view.DataModel.Count)
	assert.NotNil(t, view.DataModel.Data)
	assert.Equal(t, 5, view.TotalItems)
	assert.Equal(t, "Finance", view.BusinessUnitsTeams.Data[0]["name"])
	assert.Len(t, view.Sections(), 12)
}

func TestDashboardRecentActivity(t *testing.T) {
	long := strings.Repeat("é", 120)
	c := extraction.Consolidated{
		WorkspaceID: "W1",
		Sources:     2,
		Categories: map[string][]extraction.Item{
			"requirements": {item("M2", day2, map[string]any{"description": long})},
			"action_items": {item("M2", day2, map[string]any{"task": "Send notes"}), item("M1", day1, "not an object")},
			"risks_issues": {item("M1", day1, map[string]any{"description": "Budget"})},
			"decisions":    {item("M1", day1, map[string]any{"decision": "Go"})},
			"dependencies": {item("M1", day1, map[string]any{"type": "vendor"})},
		},
	}

	view := BuildDashboard(c, 3)
	assert.Equal(t, DashboardSummary{
		SourceCount: 2, RequirementsCount: 1, RisksIssuesCount: 1, ActionItemsCount: 2,
		DecisionsCount: 1, DependenciesCount: 1,
	}, view.Summary)

	require.Len(t, view.RecentActivity, 3)
	first := view.RecentActivity[0]
	assert.Equal(t, "requirement", first.Type)
	assert.Equal(t, "assignment", first.Icon)
	assert.Equal(t, "purple", first.Color)
	assert.Equal(t, strings.Repeat("é", 100)+"...", first.Description)

	assert.Equal(t, "action", view.RecentActivity[1].Type)
	assert.Equal(t, "Send notes", view.RecentActivity[1].Description)
	assert.Equal(t, "risk", view.RecentActivity[2].Type)
	assert.Equal(t, "warning", view.RecentActivity[2].Icon)
}

func TestDashboardDefaultLimit(t *testing.T) {
	var decisions []extraction.Item
	for i := 0; i < 15; i++ {
		decisions = append(decisions, item("M1", day1.Add(time.Duration(i)*time.Minute), map[string]any{"decision": "d"}))
	}
	view := BuildDashboard(extraction.Consolidated{Categories: map[string][]extraction.Item{"decisions": decisions}}, 0)
	require.Len(t, view.RecentActivity, 10)
	assert.True(t, view.RecentActivity[0].CreatedAt.Equal(day1.Add(14*time.Minute)))
	assert.Equal(t, "gavel", view.RecentActivity[0].Icon)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 100))
	exact := strings.Repeat("a", 100)
	assert.Equal(t, exact, truncate(exact, 100))
	assert.Equal(t, strings.Repeat("a", 100)+"...", truncate(exact+"b", 100))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Options{})
	assert.Equal(t, []string{BusinessRequirements, RiskLog, Dashboard}, r.Names())

	categories, ok := r.Categories(RiskLog)
	require.True(t, ok)
	assert.Equal(t, []string{"risks_issues", "action_items", "decisions", "dependencies", "pain_points"}, categories)

	brd, ok := r.Categories(BusinessRequirements)
	require.True(t, ok)
	assert.Contains(t, brd, "bu_teams")
	assert.Contains(t, brd, "integrations")

	_, ok = r.Categories("nope")
	assert.False(t, ok)

	_, err := r.Build("nope", extraction.Consolidated{})
	require.ErrorIs(t, err, extraction.ErrUnknownView)

	built, err := r.Build(Dashboard, extraction.Consolidated{})
	require.NoError(t, err)
	assert.IsType(t, &DashboardView{}, built)
	assert.IsType(t, &RiskLogView{}, r.New(RiskLog))
}

func TestViewsRoundTripThroughJSON(t *testing.T) {
	view := BuildRiskLog(riskLogFixture())
	raw, err := json.Marshal(view)
	require.NoError(t, err)

	var decoded RiskLogView
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, view.ActionStatus, decoded.ActionStatus)
	assert.Equal(t, view.RisksIssues.Count, decoded.RisksIssues.Count)
	assert.Equal(t, "K1", decoded.RisksIssues.Data[0]["id"])
}
