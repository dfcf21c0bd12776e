package jsonrepair

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimDangling(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"half key", `{"name": "APT29", "fir`, `{"name": "APT29"`},
		{"key without colon", `{"a": 1, "b"`, `{"a": 1`},
		{"key without value", `{"a": 1, "b":  `, `{"a": 1`},
		{"partial literal", `{"a": 1, "b": tr`, `{"a": 1`},
		{"partial number", `{"a": 1, "b": 12.`, `{"a": 1`},
		{"complete number kept", `{"a": 1, "b": 12`, `{"a": 1, "b": 12`},
		{"partial literal in array", `{"a": [1, 2, nu`, `{"a": [1, 2`},
		{"unterminated value kept", `{"a": "some text`, `{"a": "some text`},
		{"complete document untouched", `{"a": 1}`, `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimDangling(tt.in))
		})
	}
}

func TestTrimIncompleteElement(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "object element cut mid string",
			in:   `{"v": [{"id": "CVE-1"}, {"id": "CVE-2", "description": "path trav`,
			want: `{"v": [{"id": "CVE-1"}`,
		},
		{
			name: "string element cut",
			in:   `{"aliases": ["Cozy Bear", "The Du`,
			want: `{"aliases": ["Cozy Bear"`,
		},
		{
			name: "nested object not in array left alone",
			in:   `{"narrative": {"summary": "abc`,
			want: `{"narrative": {"summary": "abc`,
		},
		{
			name: "complete array left alone",
			in:   `{"v": [{"id": "CVE-1"}], "s": "x`,
			want: `{"v": [{"id": "CVE-1"}], "s": "x`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimIncompleteElement(tt.in))
		})
	}
}

func TestBalance(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"close braces and brackets", `{"a": [1, {"b": 2}`, `{"a": [1, {"b": 2}]}`},
		{"close open string", `{"a": "tex`, `{"a": "tex"}`},
		{"dangling escape dropped", `{"a": "tex\`, `{"a": "tex"}`},
		{"partial unicode escape dropped", `{"a": "caf\u00`, `{"a": "caf"}`},
		{"trailing comma before closing", `{"a": [1, 2,`, `{"a": [1, 2]}`},
		{"colon gets null", `{"a":`, `{"a":null}`},
		{"balanced untouched", `{"a": 1}`, `{"a": 1}`},
		{"braces inside strings ignored", `{"a": "{[", "b": [`, `{"a": "{[", "b": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Balance(tt.in))
		})
	}
}

func TestStripTrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a": [1, 2], "b": {"c": 1}}`, StripTrailingCommas(`{"a": [1, 2,], "b": {"c": 1,},}`))
	assert.Equal(t, `{"a": "x,]"}`, StripTrailingCommas(`{"a": "x,]"}`))
	assert.Equal(t, `{"a": "q\",}"}`, StripTrailingCommas(`{"a": "q\",}"}`))
}

func TestTrimPreamble(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, TrimPreamble("Here is the JSON:\n{\"a\": 1}\n"))
	assert.Equal(t, `{"a": 1}`, TrimPreamble(`{"a": 1}`))
}

type vuln struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type record struct {
	Name            string   `json:"name"`
	Aliases         []string `json:"aliases"`
	Vulnerabilities []vuln   `json:"vulnerabilities"`
}

func TestRepair_TruncatedMidArray(t *testing.T) {
	full := `{"name": "APT29", "aliases": ["Cozy Bear", "The Dukes"], "vulnerabilities": [` +
		`{"id": "CVE-2018-13379", "description": "Fortinet FortiOS path traversal", "severity": "CRITICAL"},` +
		`{"id": "CVE-2019-19781", "description": "Citrix ADC directory traversal", "severity": "CRITICAL"},` +
		`{"id": "CVE-2020-5902", "description": "F5 BIG-IP TMUI remote code execution", "severity": "CRITICAL"}]}`

	var ideal record
	require.NoError(t, json.Unmarshal([]byte(full), &ideal))

	// Cut inside the description string of the last element.
	cut := len(full) - len(`BIG-IP TMUI remote code execution", "severity": "CRITICAL"}]}`)
	truncated := full[:cut]

	var probe record
	require.Error(t, json.Unmarshal([]byte(truncated), &probe), "truncated input should not parse")

	repaired := Repair(truncated)
	var got record
	require.NoError(t, json.Unmarshal([]byte(repaired), &got), "repaired: %s", repaired)

	assert.Equal(t, "APT29", got.Name)
	assert.Equal(t, ideal.Aliases, got.Aliases)
	assert.Len(t, got.Vulnerabilities, len(ideal.Vulnerabilities)-1)
	assert.Equal(t, "CVE-2019-19781", got.Vulnerabilities[1].ID)
}

func TestRepair_TruncationPoints(t *testing.T) {
	full := `{"name": "X", "first_seen": "2008", "narrative": {"summary": "s", "campaigns": "c"}, ` +
		`"vulnerabilities": [{"id": "CVE-2020-0001", "severity": "HIGH"}], "sources": [{"title": "t", "url": "https://e.example/a"}]}`

	// Every prefix long enough to contain the opening brace must repair into valid JSON.
	for i := 1; i <= len(full); i++ {
		repaired := Repair(full[:i])
		var v map[string]any
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			t.Fatalf("prefix %d %q repaired to invalid JSON %q: %v", i, full[:i], repaired, err)
		}
	}
}

func TestApply_CustomOrder(t *testing.T) {
	out := Apply(`{"a": [1,`, Pass{Name: "balance", Fn: Balance})
	assert.Equal(t, `{"a": [1]}`, out)
}
