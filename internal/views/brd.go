package views

import "scopekeeper/api/internal/extraction"

// brdSections maps output sections to the category each one reads.
var brdSections = []struct {
	section  string
	category string
}{
	{"business_units_teams", "bu_teams"},
	{"modules_processes", "modules_processes"},
	{"license_list", "licenses"},
	{"personas", "personas"},
	{"requirements", "requirements"},
	{"current_state", "current_state"},
	{"target_state", "target_state"},
	{"applications_to_integrate", "integrations"},
	{"data_migration", "data_migration"},
	{"data_model", "data_model"},
	{"metadata_updates", "metadata_updates"},
	{"pain_points", "pain_points"},
}

func brdCategories() []string {
	out := make([]string, 0, len(brdSections))
	for _, s := range brdSections {
		out = append(out, s.category)
	}
	return out
}

type BusinessRequirementsView struct {
	WorkspaceID             string  `json:"workspace_id"`
	SourceCount             int     `json:"source_count"`
	TotalItems              int     `json:"total_items"`
	BusinessUnitsTeams      Section `json:"business_units_teams"`
	ModulesProcesses        Section `json:"modules_processes"`
	LicenseList             Section `json:"license_list"`
	Personas                Section `json:"personas"`
	Requirements            Section `json:"requirements"`
	CurrentState            Section `json:"current_state"`
	TargetState             Section `json:"target_state"`
	ApplicationsToIntegrate Section `json:"applications_to_integrate"`
	DataMigration           Section `json:"data_migration"`
	DataModel               Section `json:"data_model"`
	MetadataUpdates         Section `json:"metadata_updates"`
	PainPoints              Section `json:"pain_points"`
}

// Sections lists the view's sections in document order.
func (v *BusinessRequirementsView) Sections() []NamedSection {
	return []NamedSection{
		{"business_units_teams", "Business Units & Teams", v.BusinessUnitsTeams},
		{"modules_processes", "Modules & Processes", v.ModulesProcesses},
		{"license_list", "Licenses", v.LicenseList},
		{"personas", "Personas", v.Personas},
		{"requirements", "Requirements", v.Requirements},
		{"current_state", "Current State", v.CurrentState},
		{"target_state", "Target State", v.TargetState},
		{"applications_to_integrate", "Applications to Integrate", v.ApplicationsToIntegrate},
		{"data_migration", "Data Migration", v.DataMigration},
		{"data_model", "Data Model", v.DataModel},
		{"metadata_updates", "Metadata Updates", v.MetadataUpdates},
		{"pain_points", "Pain Points", v.PainPoints},
	}
}

// NamedSection pairs a section with its key and display title.
type NamedSection struct {
	Key   string
	Title string
	Section
}

func BuildBusinessRequirements(c extraction.Consolidated) *BusinessRequirementsView {
	sections := make(map[string]Section, len(brdSections))
	total := 0
	for _, s := range brdSections {
		section := newSection(c.Items(s.category))
		sections[s.section] = section
		total += section.Count
	}

	return &BusinessRequirementsView{
		WorkspaceID:             c.WorkspaceID,
		SourceCount:             c.Sources,
		TotalItems:              total,
		BusinessUnitsTeams:      sections["business_units_teams"],
		ModulesProcesses:        sections["modules_processes"],
		LicenseList:             sections["license_list"],
		Personas:                sections["personas"],
		Requirements:            sections["requirements"],
		CurrentState:            sections["current_state"],
		TargetState:             sections["target_state"],
		ApplicationsToIntegrate: sections["applications_to_integrate"],
		DataMigration:           sections["data_migration"],
		DataModel:               sections["data_model"],
		MetadataUpdates:         sections["metadata_updates"],
		PainPoints:              sections["pain_points"],
	}
}
