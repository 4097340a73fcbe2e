package normalize

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/db"
)

// LoadLookups reads the cross-reference tables and builds a Normalizer.
// Called once per run; the lookup tables are small and change rarely.
func LoadLookups(ctx context.Context, pool db.Pool) (*Normalizer, error) {
	products := make(map[string]int64)
	rows, err := pool.Query(ctx, `SELECT portal, portal_sku, product_id FROM ingest.product_xref`)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: query product xref")
	}
	for rows.Next() {
		var (
			portal, sku string
			id          int64
		)
		if err := rows.Scan(&portal, &sku, &id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "normalize: scan product xref")
		}
		products[ProductKey(portal, sku)] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "normalize: iterate product xref")
	}

	cities := make(map[string]int64)
	rows, err = pool.Query(ctx, `SELECT city_name, city_id FROM ingest.city_xref`)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: query city xref")
	}
	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "normalize: scan city xref")
		}
		cities[name] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "normalize: iterate city xref")
	}

	aliases := make(map[string]string)
	rows, err = pool.Query(ctx, `SELECT alias, city_name FROM ingest.city_alias`)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: query city aliases")
	}
	for rows.Next() {
		var alias, name string
		if err := rows.Scan(&alias, &name); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "normalize: scan city alias")
		}
		aliases[alias] = name
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "normalize: iterate city aliases")
	}

	zap.L().Debug("normalization lookups loaded",
		zap.Int("products", len(products)),
		zap.Int("cities", len(cities)),
		zap.Int("aliases", len(aliases)),
	)

	return New(products, cities, aliases), nil
}
