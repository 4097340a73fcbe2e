// Package upsert lands normalized records in the fact tables. Records are
// aggregated by natural key first, so re-running a day is idempotent and a
// portal that reports the same key twice in one export sums instead of
// fighting itself inside a single statement.
package upsert

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/db"
	"github.com/merchant-ops/portalsync/internal/normalize"
)

// DefaultBatchSize bounds how many aggregated rows go into one upsert
// statement.
const DefaultBatchSize = 500

// FactTable describes one destination table and the ordered metric columns
// it carries.
type FactTable struct {
	Name    string
	Metrics []string
}

var (
	SalesFacts     = FactTable{Name: "ingest.sales_facts", Metrics: []string{"units_sold", "revenue"}}
	InventoryFacts = FactTable{Name: "ingest.inventory_facts", Metrics: []string{"units_on_hand", "units_reserved"}}
)

// TableForKind maps a data kind to its fact table.
func TableForKind(kind string) (FactTable, error) {
	switch kind {
	case "sales":
		return SalesFacts, nil
	case "inventory":
		return InventoryFacts, nil
	}
	return FactTable{}, eris.Errorf("upsert: no fact table for data kind %q", kind)
}

// Writer persists records through conflict-safe bulk upserts.
type Writer struct {
	pool      db.Pool
	batchSize int
}

func NewWriter(pool db.Pool, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{pool: pool, batchSize: batchSize}
}

type naturalKey struct {
	portal    string
	productID int64
	cityID    int64
	date      string
}

type aggregate struct {
	key     naturalKey
	asOf    time.Time
	metrics map[string]decimal.Decimal
}

// Write aggregates records by natural key and upserts them into the fact
// table in bounded batches. Returns the number of rows written.
func (w *Writer) Write(ctx context.Context, table FactTable, records []normalize.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	aggs := aggregateRecords(records, table.Metrics)

	columns := append([]string{"portal", "product_id", "city_id", "as_of_date"}, table.Metrics...)
	cfg := db.UpsertConfig{
		Table:        table.Name,
		Columns:      columns,
		ConflictKeys: []string{"portal", "product_id", "city_id", "as_of_date"},
		UpdateCols:   table.Metrics,
	}

	var total int64
	for start := 0; start < len(aggs); start += w.batchSize {
		end := start + w.batchSize
		if end > len(aggs) {
			end = len(aggs)
		}

		rows := make([][]any, 0, end-start)
		for _, agg := range aggs[start:end] {
			row := []any{agg.key.portal, agg.key.productID, agg.key.cityID, agg.asOf}
			for _, metric := range table.Metrics {
				if v, ok := agg.metrics[metric]; ok {
					row = append(row, v)
				} else {
					row = append(row, nil)
				}
			}
			rows = append(rows, row)
		}

		n, err := db.BulkUpsert(ctx, w.pool, cfg, rows)
		if err != nil {
			return total, eris.Wrapf(err, "upsert: write batch into %s", table.Name)
		}
		total += n
	}

	zap.L().Info("fact rows written",
		zap.String("table", table.Name),
		zap.Int("source_records", len(records)),
		zap.Int("aggregated_rows", len(aggs)),
		zap.Int64("written", total),
	)
	return total, nil
}

// aggregateRecords sums metrics across records sharing a natural key,
// preserving first-seen order. A metric stays absent (NULL) only when no
// record in the group carried it.
func aggregateRecords(records []normalize.Record, metrics []string) []aggregate {
	byKey := make(map[naturalKey]*aggregate, len(records))
	var ordered []*aggregate

	for _, rec := range records {
		key := naturalKey{
			portal:    rec.Portal,
			productID: rec.ProductID,
			cityID:    rec.CityID,
			date:      rec.AsOfDate.Format("2006-01-02"),
		}

		agg, ok := byKey[key]
		if !ok {
			agg = &aggregate{
				key:     key,
				asOf:    rec.AsOfDate,
				metrics: make(map[string]decimal.Decimal, len(metrics)),
			}
			byKey[key] = agg
			ordered = append(ordered, agg)
		}

		for _, metric := range metrics {
			v, has := rec.Metrics[metric]
			if !has {
				continue
			}
			if cur, ok := agg.metrics[metric]; ok {
				agg.metrics[metric] = cur.Add(v)
			} else {
				agg.metrics[metric] = v
			}
		}
	}

	out := make([]aggregate, len(ordered))
	for i, agg := range ordered {
		out[i] = *agg
	}
	return out
}
