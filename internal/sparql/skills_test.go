package sparql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineDistributionModes(t *testing.T) {
	cases := []struct {
		name      string
		asset     Distribution
		requested Distribution
		want      Distribution
		wantErr   bool
	}{
		{"unconstrained asset yields caller mode", DistributionAll, DistributionConsumer, DistributionConsumer, false},
		{"unconstrained caller yields asset mode", DistributionProvider, DistributionAll, DistributionProvider, false},
		{"matching modes pass", DistributionConsumer, DistributionConsumer, DistributionConsumer, false},
		{"provider asset rejects consumer request", DistributionProvider, DistributionConsumer, 0, true},
		{"consumer asset rejects provider request", DistributionConsumer, DistributionProvider, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Combine(tc.asset, tc.requested)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrBadRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseDistribution(t *testing.T) {
	for raw, want := range map[string]Distribution{
		"":         DistributionAll,
		"all":      DistributionAll,
		"consumer": DistributionConsumer,
		"PROVIDER": DistributionProvider,
	} {
		got, err := ParseDistribution(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseDistribution("sideways")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestSkillStoreLifecycle(t *testing.T) {
	store := NewSkillStore()
	assert.False(t, store.Put("s1", Skill{Text: "SELECT 1"}))
	assert.True(t, store.Put("s1", Skill{Text: "SELECT 2"}))

	skill, ok := store.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "SELECT 2", skill.Text)

	assert.True(t, store.Delete("s1"))
	assert.False(t, store.Delete("s1"))
}
