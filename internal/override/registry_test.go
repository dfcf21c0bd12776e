package override

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Builtin(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reg.Len(), 4)

	r, ok := reg.Lookup("apt29")
	require.True(t, ok)
	assert.Equal(t, "APT29", r.Name)

	var ids []string
	for _, v := range r.Vulnerabilities {
		ids = append(ids, v.ID)
	}
	assert.Contains(t, ids, "CVE-2018-13379")
	assert.True(t, r.Forbids("fancy bear"))
	assert.False(t, r.Forbids("Cozy Bear"))
}

func TestLookup_Fuzzy(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		query string
		want  string
	}{
		{"APT-29", "APT29"},
		{"apt29 (Cozy Bear)", "APT29"},
		{"Lazarus", "Lazarus Group"},
		{"volt typhoon", "Volt Typhoon"},
	}
	for _, tt := range tests {
		r, ok := reg.Lookup(tt.query)
		require.True(t, ok, tt.query)
		assert.Equal(t, tt.want, r.Name, tt.query)
	}

	_, ok := reg.Lookup("Sandworm Team")
	assert.False(t, ok)
}

func TestLoad_ExtraFileOverridesBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: APT29
  vulnerabilities:
    - id: CVE-2024-0001
- name: Sandworm Team
  aliases: [Voodoo Bear]
`), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	r, ok := reg.Lookup("APT29")
	require.True(t, ok)
	require.Len(t, r.Vulnerabilities, 1)
	assert.Equal(t, "CVE-2024-0001", r.Vulnerabilities[0].ID)

	_, ok = reg.Lookup("Sandworm")
	assert.True(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing name":     "- aliases: [x]\n",
		"bad cve":          "- name: X\n  vulnerabilities:\n    - id: CVE-99\n",
		"bad severity":     "- name: X\n  vulnerabilities:\n    - id: CVE-2020-0001\n      severity: urgent\n",
		"not a yaml array": "name: X\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExtraFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	_, ok := reg.Lookup("apt29")
	assert.False(t, ok)
	assert.Zero(t, reg.Len())
	assert.Nil(t, reg.All())
}
