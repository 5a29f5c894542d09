// ABOUTME: Product catalog persistence for assistant context and product search
// ABOUTME: Supports upsert by slug, best-seller listing and keyword search

package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const productColumns = `id, slug, name, price, url, image_url, short_description, total_sales, created_at, updated_at`

// UpsertProduct inserts a product or updates the existing row with the same slug.
func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *Product) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO products (slug, name, price, url, image_url, short_description, total_sales, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			url = excluded.url,
			image_url = excluded.image_url,
			short_description = excluded.short_description,
			total_sales = excluded.total_sales,
			updated_at = excluded.updated_at
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		p.Slug,
		p.Name,
		p.Price,
		p.URL,
		p.ImageURL,
		p.ShortDescription,
		p.TotalSales,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upserting product: %w", err)
	}

	s.logger.Debug("upserted product", "slug", p.Slug, "id", p.ID)
	return nil
}

// PopularProducts returns the best-selling products.
func (s *SQLiteStore) PopularProducts(ctx context.Context, limit int) ([]*Product, error) {
	if limit <= 0 {
		limit = 5
	}

	query := `SELECT ` + productColumns + ` FROM products ORDER BY total_sales DESC, id ASC LIMIT ?`
	return s.queryProducts(ctx, query, limit)
}

// SearchProducts returns products whose name or description contains any keyword,
// best sellers first. An empty keyword list returns nothing.
func (s *SQLiteStore) SearchProducts(ctx context.Context, keywords []string, limit int) ([]*Product, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	var clauses []string
	var args []any
	for _, kw := range keywords {
		like := "%" + strings.ToLower(kw) + "%"
		clauses = append(clauses, "(LOWER(name) LIKE ? OR LOWER(short_description) LIKE ?)")
		args = append(args, like, like)
	}
	args = append(args, limit)

	query := `SELECT ` + productColumns + ` FROM products WHERE ` +
		strings.Join(clauses, " OR ") +
		` ORDER BY total_sales DESC, id ASC LIMIT ?`

	return s.queryProducts(ctx, query, args...)
}

func (s *SQLiteStore) queryProducts(ctx context.Context, query string, args ...any) ([]*Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		var p Product
		var createdAt, updatedAt string

		if err := rows.Scan(
			&p.ID,
			&p.Slug,
			&p.Name,
			&p.Price,
			&p.URL,
			&p.ImageURL,
			&p.ShortDescription,
			&p.TotalSales,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}

		if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		products = append(products, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating product rows: %w", err)
	}

	return products, nil
}
