package fixtures

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		s := s
		t.Run(s.Name, func(t *testing.T) {
			result := Run(s)
			require.Empty(t, result.Mismatches, "scenario %s: %v", s.Name, result.Mismatches)
		})
	}
}
