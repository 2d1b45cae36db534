package etf

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"etfspread/internal/provider"
)

// Meta is the reference-table record for one ETF.
type Meta struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Category string `json:"category"`
	ESG      bool   `json:"esg"`
	// ForData marks symbols included in the default fetch universe.
	ForData bool `json:"for_data"`
}

// Table is the read-only ETF reference table.
type Table struct {
	bySymbol map[string]Meta
	order    []string
}

// Load reads the reference table from a CSV file. The header must contain
// a Symbol column; Name, Exchange, Category, esg and for_data are optional.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("etf table: %w", err)
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("etf table: reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	symCol, ok := col["symbol"]
	if !ok {
		return nil, fmt.Errorf("etf table: header has no Symbol column: %v", header)
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	t := &Table{bySymbol: make(map[string]Meta)}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("etf table: %w", err)
		}
		sym := strings.ToUpper(strings.TrimSpace(rec[symCol]))
		if sym == "" {
			continue
		}
		m := Meta{
			Symbol:   sym,
			Name:     field(rec, "name"),
			Exchange: field(rec, "exchange"),
			Category: field(rec, "category"),
			ESG:      truthy(field(rec, "esg")),
			ForData:  truthy(field(rec, "for_data")),
		}
		if _, dup := t.bySymbol[sym]; !dup {
			t.order = append(t.order, sym)
		}
		t.bySymbol[sym] = m
	}
	return t, nil
}

// Lookup returns the record for symbol, if present.
func (t *Table) Lookup(symbol string) (Meta, bool) {
	m, ok := t.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return m, ok
}

// Require returns the record for symbol or a ValidationError.
func (t *Table) Require(symbol string) (Meta, error) {
	m, ok := t.Lookup(symbol)
	if !ok {
		return Meta{}, &provider.ValidationError{Field: "symbol", Msg: fmt.Sprintf("%q not in ETF reference table", symbol)}
	}
	return m, nil
}

// Symbols lists table symbols in file order. With forDataOnly, only the
// default fetch universe is returned.
func (t *Table) Symbols(forDataOnly bool) []string {
	out := make([]string, 0, len(t.order))
	for _, s := range t.order {
		if forDataOnly && !t.bySymbol[s].ForData {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (t *Table) Len() int { return len(t.order) }

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
