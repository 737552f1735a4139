package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/retail-security-data/internal/provider"
)

func TestBuildHierarchy(t *testing.T) {
	t.Parallel()

	tree := BuildHierarchy([]provider.LocationSummary{
		{Country: "Canada", CountryCode: "CA", StateProvince: "Ontario", City: "Toronto", Count: 4},
		{Country: "United States", CountryCode: "US", StateProvince: "California", City: "Los Angeles", Count: 3},
		{Country: "United States", CountryCode: "US", StateProvince: "California", City: "San Francisco", Count: 2},
		{Country: "United States", CountryCode: "US", StateProvince: "California", Count: 1},
		{Country: "United States", CountryCode: "US", Count: 5},
		{Country: "United States", CountryCode: "US", StateProvince: "Illinois", City: "Chicago", Count: 7},
		{City: "Nowhere", Count: 9},
	})

	require.Len(t, tree, 2)
	assert.Equal(t, "Canada", tree[0].Country)
	assert.Equal(t, 4, tree[0].Count)

	us := tree[1]
	assert.Equal(t, "US", us.CountryCode)
	assert.Equal(t, 18, us.Count)
	require.Len(t, us.States, 2)
	assert.Equal(t, StateNode{
		State: "California",
		Count: 6,
		Cities: []CityNode{
			{City: "Los Angeles", Count: 3},
			{City: "San Francisco", Count: 2},
		},
	}, us.States[0])
	assert.Equal(t, "Illinois", us.States[1].State)
}

func TestBuildHierarchy_Empty(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, BuildHierarchy(nil))
	assert.Empty(t, BuildHierarchy(nil))
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `100\% off\_sale \\ x`, escapeLike(`100% off_sale \ x`))
}
