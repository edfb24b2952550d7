// Package report builds the post-run summary statistics over the current
// versions of the historized tables: distinct entity counts and per-group
// breakdowns, rendered as text for the CLI and served as JSON by the console.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// GroupCount is one row of a per-group breakdown.
type GroupCount struct {
	Group string `json:"group"`
	Count int64  `json:"count"`
}

// Stats is the summary over the current product and price versions.
type Stats struct {
	UniqueProducts          int64        `json:"uniqueProducts"`
	UniqueManufacturers     int64        `json:"uniqueManufacturers"`
	UniqueCategories        int64        `json:"uniqueCategories"`
	UniquePriceRecords      int64        `json:"uniquePriceRecords"`
	UniqueDistributors      int64        `json:"uniqueDistributors"`
	ProductsPerCategory     []GroupCount `json:"productsPerCategory"`
	PricesPerDistributor    []GroupCount `json:"pricesPerDistributor"`
	ProductsPerManufacturer []GroupCount `json:"productsPerManufacturer"`
}

// Collect gathers summary statistics. Only current versions count; closed
// history rows are excluded everywhere.
func Collect(ctx context.Context, pool *pgxpool.Pool) (*Stats, error) {
	stats := &Stats{}

	scalars := []struct {
		dest  *int64
		query string
	}{
		{&stats.UniqueProducts, `SELECT COUNT(DISTINCT sku) FROM products WHERE is_current`},
		{&stats.UniqueManufacturers, `SELECT COUNT(DISTINCT manufacturer) FROM products WHERE is_current`},
		{&stats.UniqueCategories, `SELECT COUNT(DISTINCT category) FROM products WHERE is_current`},
		{&stats.UniquePriceRecords, `SELECT COUNT(*) FROM (SELECT DISTINCT sku, distributor FROM prices WHERE is_current) d`},
		{&stats.UniqueDistributors, `SELECT COUNT(DISTINCT distributor) FROM prices WHERE is_current`},
	}
	for _, q := range scalars {
		if err := pool.QueryRow(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("report scalar query: %w", err)
		}
	}

	groups := []struct {
		dest  *[]GroupCount
		query string
	}{
		{&stats.ProductsPerCategory,
			`SELECT category, COUNT(sku) FROM products WHERE is_current GROUP BY category ORDER BY category`},
		{&stats.PricesPerDistributor,
			`SELECT distributor, COUNT(DISTINCT sku) FROM prices WHERE is_current GROUP BY distributor ORDER BY distributor`},
		{&stats.ProductsPerManufacturer,
			`SELECT manufacturer, COUNT(sku) FROM products WHERE is_current GROUP BY manufacturer ORDER BY manufacturer`},
	}
	for _, q := range groups {
		counts, err := groupCounts(ctx, pool, q.query)
		if err != nil {
			return nil, err
		}
		*q.dest = counts
	}

	return stats, nil
}

func groupCounts(ctx context.Context, pool *pgxpool.Pool, query string) ([]GroupCount, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("report group query: %w", err)
	}
	defer rows.Close()

	counts := make([]GroupCount, 0)
	for rows.Next() {
		var gc GroupCount
		if err := rows.Scan(&gc.Group, &gc.Count); err != nil {
			return nil, fmt.Errorf("scan group count: %w", err)
		}
		counts = append(counts, gc)
	}
	return counts, rows.Err()
}

// Render formats the stats as a plain-text summary for the CLI.
func Render(stats *Stats) string {
	var sb strings.Builder

	sb.WriteString("Summary Report\n")
	sb.WriteString("==============\n")
	fmt.Fprintf(&sb, "Unique products:       %d\n", stats.UniqueProducts)
	fmt.Fprintf(&sb, "Unique manufacturers:  %d\n", stats.UniqueManufacturers)
	fmt.Fprintf(&sb, "Unique categories:     %d\n", stats.UniqueCategories)
	fmt.Fprintf(&sb, "Unique price records:  %d\n", stats.UniquePriceRecords)
	fmt.Fprintf(&sb, "Unique distributors:   %d\n", stats.UniqueDistributors)

	sections := []struct {
		title  string
		counts []GroupCount
	}{
		{"Products per category", stats.ProductsPerCategory},
		{"Prices per distributor", stats.PricesPerDistributor},
		{"Products per manufacturer", stats.ProductsPerManufacturer},
	}
	for _, sec := range sections {
		if len(sec.counts) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s:\n", sec.title)
		for _, gc := range sec.counts {
			fmt.Fprintf(&sb, "  %-24s %d\n", gc.Group, gc.Count)
		}
	}

	return sb.String()
}
