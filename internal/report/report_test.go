package report

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	stats := &Stats{
		UniqueProducts:      42,
		UniqueManufacturers: 3,
		UniqueCategories:    5,
		UniquePriceRecords:  120,
		UniqueDistributors:  2,
		ProductsPerCategory: []GroupCount{
			{Group: "tools", Count: 30},
			{Group: "safety", Count: 12},
		},
		PricesPerDistributor: []GroupCount{
			{Group: "globex", Count: 80},
			{Group: "initech", Count: 40},
		},
	}

	out := Render(stats)

	for _, want := range []string{
		"Summary Report",
		"Unique products:       42",
		"Unique distributors:   2",
		"Products per category:",
		"tools",
		"Prices per distributor:",
		"initech",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}

	// Empty breakdowns render no section header.
	if strings.Contains(out, "Products per manufacturer:") {
		t.Error("Render() should omit empty breakdown sections")
	}
}

func TestRender_ZeroStats(t *testing.T) {
	out := Render(&Stats{})
	if !strings.Contains(out, "Unique products:       0") {
		t.Errorf("Render() of zero stats:\n%s", out)
	}
}
