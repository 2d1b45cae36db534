package store

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"etfspread/internal/aggregate"
	"etfspread/internal/provider"
)

// Raw quote artifacts are one CSV per (date, symbol), named
// YYYY-MM-DD_SYMBOL.csv.

var rawHeader = []string{"timestamp_ns", "bid_price", "bid_size", "ask_price", "ask_size", "source"}

var unitName = regexp.MustCompile(`^([0-9]{4}-[0-9]{2}-[0-9]{2})_([A-Z]{1,6})$`)

// Unit identifies one (date, symbol) artifact on disk.
type Unit struct {
	Date   string `json:"date"`
	Symbol string `json:"symbol"`
}

func RawPath(dir, date, symbol string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", date, strings.ToUpper(symbol)))
}

func SessionPath(dir, date, symbol string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", date, strings.ToUpper(symbol)))
}

func ManifestPath(dir, date, symbol string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.meta.json", date, strings.ToUpper(symbol)))
}

// WriteRaw persists the raw quote sequence as a complete artifact. The
// artifact appears at path only after the whole sequence is on disk, so a
// failed run never leaves a truncated file for the skip-existing check to
// mistake for a complete one.
func WriteRaw(path string, quotes []provider.Quote) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(rawHeader); err != nil {
			return err
		}
		for _, q := range quotes {
			rec := []string{
				strconv.FormatInt(q.Timestamp.UnixNano(), 10),
				q.BidPrice.String(),
				strconv.FormatInt(q.BidSize, 10),
				q.AskPrice.String(),
				strconv.FormatInt(q.AskSize, 10),
				q.Source,
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadRaw loads a raw quote artifact in timestamp order as written.
func ReadRaw(path string) ([]provider.Quote, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	cr := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	cr.FieldsPerRecord = len(rawHeader)

	if _, err := cr.Read(); err != nil { // header
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out []provider.Quote
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		q, err := parseRaw(rec)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, q)
	}
	return out, nil
}

func parseRaw(rec []string) (provider.Quote, error) {
	ns, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("timestamp %q: %w", rec[0], err)
	}
	bid, err := decimal.NewFromString(rec[1])
	if err != nil {
		return provider.Quote{}, fmt.Errorf("bid price %q: %w", rec[1], err)
	}
	bidSize, err := strconv.ParseInt(rec[2], 10, 64)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("bid size %q: %w", rec[2], err)
	}
	ask, err := decimal.NewFromString(rec[3])
	if err != nil {
		return provider.Quote{}, fmt.Errorf("ask price %q: %w", rec[3], err)
	}
	askSize, err := strconv.ParseInt(rec[4], 10, 64)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("ask size %q: %w", rec[4], err)
	}
	return provider.Quote{
		Timestamp: time.Unix(0, ns).UTC(),
		BidPrice:  bid,
		BidSize:   bidSize,
		AskPrice:  ask,
		AskSize:   askSize,
		Source:    rec[5],
	}, nil
}

// Manifest records one fetch run for a (date, symbol) artifact.
type Manifest struct {
	RunID     string    `json:"run_id"`
	Symbol    string    `json:"symbol"`
	Date      string    `json:"date"`
	Provider  string    `json:"provider"`
	Quotes    int       `json:"quotes"`
	FetchedAt time.Time `json:"fetched_at"`
}

func WriteManifest(path string, m Manifest) error {
	return writeJSON(path, m)
}

func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	err := readJSON(path, &m)
	return m, err
}

// WriteSession persists aggregated session statistics.
func WriteSession(path string, s aggregate.Session) error {
	return writeJSON(path, s)
}

func ReadSession(path string) (aggregate.Session, error) {
	var s aggregate.Session
	err := readJSON(path, &s)
	return s, err
}

// WriteCombined persists the cross-day quoted-spread artifact.
func WriteCombined(path string, c aggregate.Combined) error {
	return writeJSON(path, c)
}

func ReadCombined(path string) (aggregate.Combined, error) {
	var c aggregate.Combined
	err := readJSON(path, &c)
	return c, err
}

// ETFInfo is the per-symbol annotation artifact (average daily volume).
type ETFInfo map[string]decimal.Decimal

func WriteETFInfo(path string, info ETFInfo) error {
	return writeJSON(path, info)
}

func ReadETFInfo(path string) (ETFInfo, error) {
	var info ETFInfo
	err := readJSON(path, &info)
	return info, err
}

// Scan lists the (date, symbol) units present in dir, by file name, for the
// given extension (".csv" for raw artifacts, ".json" for sessions). Sorted
// by date then symbol.
func Scan(dir, ext string) ([]Unit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	var units []Unit
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ext)
		m := unitName.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		units = append(units, Unit{Date: m[1], Symbol: m[2]})
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].Date != units[j].Date {
			return units[i].Date < units[j].Date
		}
		return units[i].Symbol < units[j].Symbol
	})
	return units, nil
}

func writeJSON(path string, v any) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	})
}

// writeAtomic writes through a buffered temp file in the same directory and
// renames it into place on success. On any error the temp file is removed
// and path is left untouched.
func writeAtomic(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	tmp := f.Name()

	bw := bufio.NewWriterSize(f, 1<<20)
	err = write(bw)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
