package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/actor-profiler/internal/reference"
)

func taxonomy() *reference.Taxonomy {
	return reference.NewTaxonomy([]reference.Entry{
		{Name: "APT28", Aliases: []string{"APT28", "Fancy Bear", "Sofacy", "STRONTIUM"}},
		{Name: "APT29", Aliases: []string{"APT29", "Cozy Bear", "The Dukes", "NOBELIUM"}},
	}, []string{"Cobalt Strike", "Mimikatz"})
}

func TestReconcile_ForeignOwnerRejected(t *testing.T) {
	res := New().Reconcile("Cozy Bear", []string{"Fancy Bear", "NOBELIUM"}, nil, taxonomy())

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, Rejection{Name: "Fancy Bear", Reason: ReasonOwned, Owner: "APT28"}, res.Rejected[0])
	assert.Equal(t, []string{"NOBELIUM"}, res.Accepted)
	assert.Empty(t, res.Unverified)
}

func TestReconcile_Rules(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		known     []string
		accepted  bool
		reason    string
	}{
		{"qualifier overlap", "Midnight Blizzard (overlap)", nil, false, ReasonQualifier},
		{"qualifier possible", "UNC2452 (possible)", nil, false, ReasonQualifier},
		{"qualifier related", "Dark Halo [related]", nil, false, ReasonQualifier},
		{"qualifier suspected", "Nobelium [suspected subgroup]", nil, false, ReasonQualifier},
		{"tracking annotation", "Dark Halo (previously tracked as UNC2452)", nil, true, ""},
		{"likely annotation", "StellarParticle (likely)", nil, true, ""},
		{"catalogued tool", "cobalt-strike", nil, false, ReasonTool},
		{"supplement tool", "Brute Ratel C4", nil, false, ReasonTool},
		{"own alias", "The Dukes", nil, true, ""},
		{"unknown name", "Dark Halo", nil, true, ""},
		{"known overrides owner", "Sofacy", []string{"APT28"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New().Reconcile("APT29", []string{tt.candidate}, tt.known, taxonomy())
			if tt.accepted {
				assert.Equal(t, []string{tt.candidate}, res.Accepted)
				assert.Empty(t, res.Rejected)
				return
			}
			assert.Empty(t, res.Accepted)
			require.Len(t, res.Rejected, 1)
			assert.Equal(t, tt.reason, res.Rejected[0].Reason)
		})
	}
}

func TestReconcile_NilTaxonomy(t *testing.T) {
	res := New().Reconcile("APT29", []string{"Fancy Bear", "Sliver", ""}, nil, nil)
	assert.Equal(t, []string{"Fancy Bear"}, res.Accepted)
	assert.Equal(t, []string{"Fancy Bear"}, res.Unverified)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonTool, res.Rejected[0].Reason)
}

func TestReconcile_ExtraTools(t *testing.T) {
	res := New("Mystery Loader").Reconcile("APT29", []string{"mystery loader"}, nil, nil)
	assert.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 1)
}
