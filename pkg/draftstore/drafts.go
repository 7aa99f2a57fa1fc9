package draftstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ProductRow represents a row in the draft_products table.
type ProductRow struct {
	SPUCode   string
	Title     string
	RunStamp  string
	Folder    string
	ItemCount int
	CreatedAt time.Time
}

// VariantRow represents a row in the draft_variants table.
type VariantRow struct {
	VariantID string
	SPUCode   string
	SKUCode   string
	AttrsJSON string
	CreatedAt time.Time
}

// UpsertProduct inserts or replaces a drafted product row.
//
// A re-run of the same code overwrites the previous draft's row; the
// stale on-disk folder from the earlier run is the cleanup
// coordinator's problem, not ours.
func UpsertProduct(ctx context.Context, db *sql.DB, row ProductRow) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO draft_products (spu_code, title, run_stamp, folder, item_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(spu_code) DO UPDATE SET
		   title = excluded.title,
		   run_stamp = excluded.run_stamp,
		   folder = excluded.folder,
		   item_count = excluded.item_count,
		   created_at = excluded.created_at`,
		row.SPUCode, row.Title, row.RunStamp, row.Folder, row.ItemCount, row.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert draft product: %w", err)
	}
	return nil
}

// UpsertVariant inserts or replaces a draft variant row.
func UpsertVariant(ctx context.Context, db *sql.DB, row VariantRow) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO draft_variants (variant_id, spu_code, sku_code, attrs_json, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(variant_id) DO UPDATE SET
		   spu_code = excluded.spu_code,
		   sku_code = excluded.sku_code,
		   attrs_json = excluded.attrs_json,
		   created_at = excluded.created_at`,
		row.VariantID, row.SPUCode, row.SKUCode, row.AttrsJSON, row.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert draft variant: %w", err)
	}
	return nil
}

// DeleteVariantsByCodes deletes all variant rows whose product code is
// in codes, returning the number of rows removed. Deleting codes with
// no rows is not an error.
func DeleteVariantsByCodes(ctx context.Context, db *sql.DB, codes []string) (int64, error) {
	return deleteByCodes(ctx, db, "draft_variants", "spu_code", codes)
}

// DeleteProductsByCodes deletes all product rows whose code is in
// codes, returning the number of rows removed.
func DeleteProductsByCodes(ctx context.Context, db *sql.DB, codes []string) (int64, error) {
	return deleteByCodes(ctx, db, "draft_products", "spu_code", codes)
}

func deleteByCodes(ctx context.Context, db *sql.DB, table, column string, codes []string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(codes) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}

	// table and column are fixed identifiers from the two callers above.
	res, err := db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s IN (%s)`, table, column, placeholders),
		args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// CountProductsByRunStamp returns how many product rows a run wrote.
func CountProductsByRunStamp(ctx context.Context, db *sql.DB, runStamp string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM draft_products WHERE run_stamp = ?`, runStamp).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count draft products: %w", err)
	}
	return n, nil
}
