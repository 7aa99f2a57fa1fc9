package draftstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

func seedProduct(t *testing.T, db *sql.DB, code, stamp string) {
	t.Helper()
	require.NoError(t, UpsertProduct(context.Background(), db, ProductRow{
		SPUCode:   code,
		Title:     "draft " + code,
		RunStamp:  stamp,
		ItemCount: 1,
		CreatedAt: time.Now(),
	}))
}

func seedVariant(t *testing.T, db *sql.DB, id, code string) {
	t.Helper()
	require.NoError(t, UpsertVariant(context.Background(), db, VariantRow{
		VariantID: id,
		SPUCode:   code,
		SKUCode:   code + "-V",
		CreatedAt: time.Now(),
	}))
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestStore(t)
	require.NoError(t, Migrate(context.Background(), db))
}

func TestUpsertProduct_ReplacesExisting(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	seedProduct(t, db, "ND-1", "stampA")
	seedProduct(t, db, "ND-1", "stampB")

	n, err := CountProductsByRunStamp(ctx, db, "stampB")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = CountProductsByRunStamp(ctx, db, "stampA")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDeleteByCodes_RemovesOnlyGivenCodes(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	seedProduct(t, db, "ND-1", "stampA")
	seedProduct(t, db, "ND-2", "stampA")
	seedProduct(t, db, "ND-9", "stampA")
	seedVariant(t, db, "v1", "ND-1")
	seedVariant(t, db, "v2", "ND-1")
	seedVariant(t, db, "v3", "ND-9")

	deleted, err := DeleteVariantsByCodes(ctx, db, []string{"ND-1", "ND-2"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	deleted, err = DeleteProductsByCodes(ctx, db, []string{"ND-1", "ND-2"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	n, err := CountProductsByRunStamp(ctx, db, "stampA")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteByCodes_AbsentCodesNoError(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	deleted, err := DeleteProductsByCodes(ctx, db, []string{"ZZ-404"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, deleted)

	deleted, err = DeleteVariantsByCodes(ctx, db, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, deleted)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "memory", cfg: Config{Path: ":memory:"}, want: ":memory:"},
		{name: "url passthrough", cfg: Config{URL: "libsql://drafts.turso.io"}, want: "libsql://drafts.turso.io"},
		{name: "url with token", cfg: Config{URL: "libsql://drafts.turso.io", AuthToken: "tok"}, want: "libsql://drafts.turso.io?authToken=tok"},
		{name: "empty", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
