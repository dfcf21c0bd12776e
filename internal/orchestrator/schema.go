package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iyulab/actor-profiler/internal/jsonrepair"
	"github.com/iyulab/actor-profiler/internal/profile"
)

var stringType = map[string]interface{}{"type": "string"}

// ProfileSchema constrains the structuring call. Every field is required.
var ProfileSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"name":       stringType,
		"first_seen": stringType,
		"aliases":    map[string]interface{}{"type": "array", "items": stringType},
		"narrative": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary":         stringType,
				"campaigns":       stringType,
				"recent_activity": stringType,
			},
			"required": []interface{}{"summary", "campaigns", "recent_activity"},
		},
		"vulnerabilities": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id":          stringType,
					"description": stringType,
					"severity":    map[string]interface{}{"type": "string", "enum": []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"}},
					"evidence":    stringType,
				},
				"required": []interface{}{"id", "description", "severity", "evidence"},
			},
		},
		"sources": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": stringType,
					"url":   stringType,
				},
				"required": []interface{}{"title", "url"},
			},
		},
	},
	"required": []interface{}{"name", "first_seen", "aliases", "narrative", "vulnerabilities", "sources"},
}

// parseRecord decodes structured output into a Record. Severities outside the
// enum become MEDIUM and identifiers are upper-cased.
func parseRecord(raw string) (profile.Record, error) {
	cleaned := cleanJSONResponse(jsonrepair.TrimPreamble(raw))
	if !strings.HasPrefix(cleaned, "{") {
		return profile.Record{}, fmt.Errorf("parse record: no JSON object in output")
	}

	var rec profile.Record
	if err := json.Unmarshal([]byte(cleaned), &rec); err != nil {
		return profile.Record{}, fmt.Errorf("parse record: %w", err)
	}

	for i, v := range rec.Vulnerabilities {
		v.ID = strings.ToUpper(strings.TrimSpace(v.ID))
		if sev, ok := profile.ParseSeverity(string(v.Severity)); ok {
			v.Severity = sev
		} else {
			v.Severity = profile.SeverityMedium
		}
		v.Evidence = strings.TrimSpace(v.Evidence)
		rec.Vulnerabilities[i] = v
	}
	rec.Name = strings.TrimSpace(rec.Name)
	rec.FirstSeen = strings.TrimSpace(rec.FirstSeen)
	return rec, nil
}

// cleanJSONResponse strips markdown code fences and leading/trailing whitespace.
// A closing fence is removed even when the opening one was cut away.
func cleanJSONResponse(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}
