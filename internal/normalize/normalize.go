// Package normalize converts raw portal rows into canonical fact records,
// resolving portal-local SKUs and city names through the cross-reference
// tables. Rows that cannot be resolved are reported individually so the
// rest of the batch still lands.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/extract"
)

// NoCity is the surrogate city dimension for rows without a city breakdown.
// Using 0 instead of NULL keeps the fact tables' unique index honest.
const NoCity int64 = 0

// Record is a canonical fact row. Metrics holds only the measures the
// source row actually carried; an absent key means the portal did not
// report that measure, which is different from reporting zero.
type Record struct {
	Portal    string
	SourceSKU string
	ProductID int64
	CityID    int64
	AsOfDate  time.Time
	Metrics   map[string]decimal.Decimal
}

// RowError describes a single row that failed normalization. The batch
// continues without it.
type RowError struct {
	Portal string
	Kind   string
	Pos    int
	SKU    string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("normalize: %s/%s row %d (sku %q): %s", e.Portal, e.Kind, e.Pos, e.SKU, e.Reason)
}

// Mapping describes how one portal and data kind's columns translate into
// a Record. Metrics maps canonical metric names to source column names.
// PriceColumn, when set, derives revenue as units_sold times unit price for
// portals that export price instead of revenue; derivation happens only
// when both inputs are present.
type Mapping struct {
	SKUColumn   string
	CityColumn  string // empty when the portal has no city breakdown
	Metrics     map[string]string
	PriceColumn string
}

// Normalizer resolves portal identifiers against the cross-reference
// tables. Product keys are per portal; city aliases are shared across all
// portals by design, so a spelling fixed for one portal is fixed for all.
type Normalizer struct {
	products map[string]int64 // portal + "\x00" + upper(sku) -> product id
	cities   map[string]int64 // lower(canonical name) -> city id
	aliases  map[string]string
}

// New builds a Normalizer from in-memory lookup maps. Production code
// loads these with LoadLookups; tests pass them directly.
func New(products map[string]int64, cities map[string]int64, aliases map[string]string) *Normalizer {
	norm := &Normalizer{
		products: make(map[string]int64, len(products)),
		cities:   make(map[string]int64, len(cities)),
		aliases:  make(map[string]string, len(aliases)),
	}
	for k, v := range products {
		norm.products[strings.ToUpper(k)] = v
	}
	for k, v := range cities {
		norm.cities[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for k, v := range aliases {
		norm.aliases[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return norm
}

// ProductKey builds the per-portal product lookup key.
func ProductKey(portal, sku string) string {
	return strings.ToUpper(portal + "\x00" + strings.TrimSpace(sku))
}

// ResolveCity maps a raw city string to its canonical id, applying the
// shared alias table first.
func (n *Normalizer) ResolveCity(raw string) (int64, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := n.aliases[name]; ok {
		name = canonical
	}
	id, ok := n.cities[name]
	return id, ok
}

// Normalize converts extracted rows into records. Unresolvable rows are
// returned as RowErrors alongside the records that did resolve.
func (n *Normalizer) Normalize(portal, kind string, date time.Time, rows []extract.RawRow, m Mapping) ([]Record, []*RowError) {
	records := make([]Record, 0, len(rows))
	var errs []*RowError

	for _, row := range rows {
		rec, rerr := n.normalizeRow(portal, kind, date, row, m)
		if rerr != nil {
			errs = append(errs, rerr)
			continue
		}
		records = append(records, rec)
	}

	if len(errs) > 0 {
		zap.L().Warn("rows failed normalization",
			zap.String("portal", portal),
			zap.String("kind", kind),
			zap.Int("failed", len(errs)),
			zap.Int("ok", len(records)),
		)
	}
	return records, errs
}

func (n *Normalizer) normalizeRow(portal, kind string, date time.Time, row extract.RawRow, m Mapping) (Record, *RowError) {
	fail := func(sku, reason string) (Record, *RowError) {
		return Record{}, &RowError{Portal: portal, Kind: kind, Pos: row.Pos, SKU: sku, Reason: reason}
	}

	sku := strings.TrimSpace(row.Get(m.SKUColumn))
	if sku == "" {
		return fail("", "empty sku")
	}

	productID, ok := n.products[ProductKey(portal, sku)]
	if !ok {
		return fail(sku, "unknown sku, no product mapping")
	}

	cityID := NoCity
	if m.CityColumn != "" {
		if raw := strings.TrimSpace(row.Get(m.CityColumn)); raw != "" {
			cityID, ok = n.ResolveCity(raw)
			if !ok {
				return fail(sku, fmt.Sprintf("unknown city %q", raw))
			}
		}
	}

	metrics := make(map[string]decimal.Decimal, len(m.Metrics))
	for name, col := range m.Metrics {
		cell := strings.TrimSpace(row.Get(col))
		if cell == "" {
			continue // absent measure, never defaulted to zero
		}
		v, err := decimal.NewFromString(strings.ReplaceAll(cell, ",", ""))
		if err != nil {
			return fail(sku, fmt.Sprintf("unparseable %s value %q", name, cell))
		}
		metrics[name] = v
	}

	if m.PriceColumn != "" {
		if _, has := metrics["revenue"]; !has {
			units, hasUnits := metrics["units_sold"]
			cell := strings.TrimSpace(row.Get(m.PriceColumn))
			if hasUnits && cell != "" {
				price, err := decimal.NewFromString(strings.ReplaceAll(cell, ",", ""))
				if err != nil {
					return fail(sku, fmt.Sprintf("unparseable unit price %q", cell))
				}
				metrics["revenue"] = units.Mul(price)
			}
		}
	}

	return Record{
		Portal:    portal,
		SourceSKU: sku,
		ProductID: productID,
		CityID:    cityID,
		AsOfDate:  date,
		Metrics:   metrics,
	}, nil
}
