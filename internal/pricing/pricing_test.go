package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novapharm/m/domain"
)

func TestApply(t *testing.T) {
	for _, tc := range []struct {
		name  string
		price float64
		adj   Adjustment
		want  float64
	}{
		{"set", 12.5, Adjustment{Amount: 9, Type: Fixed, Operation: Set}, 9},
		{"set ignores type", 12.5, Adjustment{Amount: 9, Type: Percentage, Operation: Set}, 9},
		{"fixed increase", 10, Adjustment{Amount: 2.25, Type: Fixed, Operation: Increase}, 12.25},
		{"percent increase", 10, Adjustment{Amount: 15, Type: Percentage, Operation: Increase}, 11.5},
		{"fixed decrease", 10, Adjustment{Amount: 3, Type: Fixed, Operation: Decrease}, 7},
		{"fixed decrease floors at zero", 10, Adjustment{Amount: 30, Type: Fixed, Operation: Decrease}, 0},
		{"percent decrease", 80, Adjustment{Amount: 25, Type: Percentage, Operation: Decrease}, 60},
		{"percent decrease floors at zero", 80, Adjustment{Amount: 150, Type: Percentage, Operation: Decrease}, 0},
		{"rounds to cents", 9.99, Adjustment{Amount: 7, Type: Percentage, Operation: Increase}, 10.69},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Apply(tc.price, tc.adj))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Adjustment{Amount: 0, Type: Fixed, Operation: Increase}.Validate())
	assert.ErrorIs(t, Adjustment{Amount: -1, Type: Fixed, Operation: Increase}.Validate(), ErrNegativeAmount)
	assert.Error(t, Adjustment{Amount: 1, Type: "ratio", Operation: Increase}.Validate())
	assert.Error(t, Adjustment{Amount: 1, Type: Fixed, Operation: "double"}.Validate())
}

var catalog = []domain.Product{
	{ID: "p1", Name: "Panadol Extra", ScientificName: "Paracetamol", Barcode: "PRD0001AAAA", Category: "analgesic", Price: 10},
	{ID: "p2", Name: "Brufen", ScientificName: "Ibuprofen", Barcode: "PRD0002BBBB", Category: "analgesic", Price: 20},
	{ID: "p3", Name: "Augmentin", ScientificName: "Amoxicillin", Barcode: "PRD0003CCCC", Category: "antibiotic", Price: 40},
}

func ids(ps []domain.Product) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestSelectPrefersExplicitSelection(t *testing.T) {
	got := Select(catalog, []string{"p3", "missing"}, Filter{Category: "analgesic"})
	assert.Equal(t, []string{"p3"}, ids(got))
}

func TestSelectFallsBackToFilter(t *testing.T) {
	assert.Equal(t, []string{"p1", "p2"}, ids(Select(catalog, nil, Filter{Category: "analgesic"})))
	assert.Equal(t, []string{"p2"}, ids(Select(catalog, nil, Filter{Search: "IBU"})))
	assert.Equal(t, []string{"p3"}, ids(Select(catalog, nil, Filter{Search: "cccc", Category: "all"})))
	assert.Len(t, Select(catalog, nil, Filter{}), 3)
}

func TestPlan(t *testing.T) {
	changes, err := Plan(catalog, BulkRequest{
		Adjustment: Adjustment{Amount: 10, Type: Percentage, Operation: Increase},
		Filter:     Filter{Category: "analgesic"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{ProductID: "p1", OldPrice: 10, NewPrice: 11},
		{ProductID: "p2", OldPrice: 20, NewPrice: 22},
	}, changes)

	_, err = Plan(catalog, BulkRequest{Adjustment: Adjustment{Amount: -5, Type: Fixed, Operation: Set}})
	assert.Error(t, err)
}
