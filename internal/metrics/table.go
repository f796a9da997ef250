package metrics

import (
	"sort"
	"sync"

	"github.com/screener-back/pkg/models"
)

// Table is the in-memory metric table. One writer (the calculator)
// replaces rows wholesale; stored rows are never mutated, so readers can
// hold returned pointers across cycles.
type Table struct {
	mu       sync.RWMutex
	rows     map[string]*models.SymbolMetrics
	revision uint64
}

// NewTable creates an empty metric table
func NewTable() *Table {
	return &Table{
		rows: make(map[string]*models.SymbolMetrics),
	}
}

// Upsert stores a row, bumping its revision only when it differs from the
// stored one. Returns true when the row changed.
func (t *Table) Upsert(row *models.SymbolMetrics) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.rows[row.Symbol]
	if ok && rowsEqual(existing, row) {
		row.Revision = existing.Revision
		return false
	}

	t.revision++
	row.Revision = t.revision
	t.rows[row.Symbol] = row
	return true
}

// Get returns the row for one symbol
func (t *Table) Get(symbol string) (*models.SymbolMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[symbol]
	return row, ok
}

// Len returns the number of rows
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Prune drops rows whose symbol is not in the active set and returns the
// removed symbols.
func (t *Table) Prune(active map[string]struct{}) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for symbol := range t.rows {
		if _, ok := active[symbol]; !ok {
			delete(t.rows, symbol)
			removed = append(removed, symbol)
		}
	}
	return removed
}

// Snapshot returns rows for one quote currency, sorted. Ties are broken by
// symbol so the ordering is stable across calls.
func (t *Table) Snapshot(quote, sortBy, order string) []*models.SymbolMetrics {
	t.mu.RLock()
	rows := make([]*models.SymbolMetrics, 0, len(t.rows))
	for _, row := range t.rows {
		if quote == "" || row.QuoteCurrency == quote {
			rows = append(rows, row)
		}
	}
	t.mu.RUnlock()

	sortRows(rows, sortBy, order)
	return rows
}

// ChangedSince returns rows for one quote currency whose revision is newer
// than the baseline, sorted by symbol.
func (t *Table) ChangedSince(quote string, baseline map[string]uint64) []*models.SymbolMetrics {
	t.mu.RLock()
	var changed []*models.SymbolMetrics
	for _, row := range t.rows {
		if quote != "" && row.QuoteCurrency != quote {
			continue
		}
		if row.Revision > baseline[row.Symbol] {
			changed = append(changed, row)
		}
	}
	t.mu.RUnlock()

	sort.Slice(changed, func(i, j int) bool {
		return changed[i].Symbol < changed[j].Symbol
	})
	return changed
}

// TopByQuoteVolume returns the n highest-volume rows across all quote
// currencies.
func (t *Table) TopByQuoteVolume(n int) []*models.SymbolMetrics {
	rows := t.Snapshot("", "quote_volume_24h", "desc")
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

func sortRows(rows []*models.SymbolMetrics, sortBy, order string) {
	desc := order != "asc"

	less := func(a, b *models.SymbolMetrics) bool {
		var av, bv float64
		switch sortBy {
		case "symbol":
			if a.Symbol != b.Symbol {
				if desc {
					return a.Symbol > b.Symbol
				}
				return a.Symbol < b.Symbol
			}
			return false
		case "last_price":
			av, bv = a.LastPrice, b.LastPrice
		case "change_pct_24h":
			av, bv = a.ChangePct24h, b.ChangePct24h
		default: // quote_volume_24h
			av, bv = a.QuoteVolume24h, b.QuoteVolume24h
		}
		if av != bv {
			if desc {
				return av > bv
			}
			return av < bv
		}
		return a.Symbol < b.Symbol
	}

	sort.Slice(rows, func(i, j int) bool {
		return less(rows[i], rows[j])
	})
}

func rowsEqual(a, b *models.SymbolMetrics) bool {
	if a.LastPrice != b.LastPrice ||
		a.BidPrice != b.BidPrice ||
		a.AskPrice != b.AskPrice ||
		a.Spread != b.Spread ||
		a.High24h != b.High24h ||
		a.Low24h != b.Low24h ||
		a.ChangePct24h != b.ChangePct24h ||
		a.QuoteVolume24h != b.QuoteVolume24h ||
		a.BaseVolume24h != b.BaseVolume24h ||
		a.Estimated != b.Estimated ||
		a.QuoteCurrency != b.QuoteCurrency {
		return false
	}

	if (a.TradeStats == nil) != (b.TradeStats == nil) {
		return false
	}
	if a.TradeStats != nil && *a.TradeStats != *b.TradeStats {
		return false
	}

	if len(a.Horizons) != len(b.Horizons) {
		return false
	}
	for h, ah := range a.Horizons {
		bh, ok := b.Horizons[h]
		if !ok || *ah != *bh {
			return false
		}
	}

	if len(a.RSI) != len(b.RSI) {
		return false
	}
	for tf, av := range a.RSI {
		if bv, ok := b.RSI[tf]; !ok || av != bv {
			return false
		}
	}

	return true
}
