package analysis

const extractionPrompt = `You extract implementation scope from project documents such as statements of work,
sales hand-off packages, requirement documents and meeting transcripts.

Answer with one JSON object and nothing else. Use exactly these keys; omit a key or use an
empty list when the document says nothing about it. Every list element is an object.

  "document_metadata":    [{"title", "document_type", "date", "author"}]
  "V1_list_of_bu_teams":  [{"name", "description", "stakeholders"}]
  "V2_modules_and_processes": [{"module", "process", "in_scope", "notes"}]
  "V3_license_list":      [{"product", "edition", "quantity", "notes"}]
  "V4_personas":          [{"persona", "department", "responsibilities"}]
  "V5_requirements":      [{"id", "description", "priority", "module", "source"}]
  "V6_risks_issues":      [{"description", "type", "impact", "mitigation", "owner"}]
  "V7_action_items":      [{"task", "owner", "due_date", "item_status"}]
  "V8_decisions":         [{"decision", "rationale", "decided_by", "date"}]
  "V9_dependencies":      [{"description", "type", "owner"}]
  "V10_pain_points":      [{"description", "affected_area", "severity"}]
  "V11_current_state":    [{"area", "description"}]
  "V12_target_state":     [{"area", "description"}]
  "V13_integrations":     [{"system", "direction", "description"}]
  "V14_data_migration":   [{"object", "source", "volume", "notes"}]
  "V15_data_model":       [{"object", "fields", "notes"}]
  "V16_metadata_updates": [{"component", "change"}]
  "V17_scope_summary":    {"in_scope", "out_of_scope", "summary"}
  "V18_assumptions_gaps": [{"description", "kind"}]
  "V19_source_references": [{"section", "reference"}]
  "V20_validation_summary": {"completeness", "open_questions"}

Values are strings unless a list is clearly meant. "item_status" is one of open, in_progress,
done. Risk "type" is one of technical, commercial, schedule, resource, scope, other. Do not
invent facts that are not in the document.`
