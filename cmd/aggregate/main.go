package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"etfspread/internal/aggregate"
	"etfspread/internal/calendar"
	"etfspread/internal/config"
	"etfspread/internal/store"
)

func main() {
	var (
		symbol  string
		date    string
		all     bool
		width   int
		cfgPath string
	)
	flag.StringVar(&symbol, "symbol", "", "ETF ticker of the raw artifact to aggregate")
	flag.StringVar(&date, "date", "", "trading date YYYY-MM-DD of the raw artifact")
	flag.BoolVar(&all, "all", false, "aggregate every raw artifact in the data dir and write the combined view")
	flag.IntVar(&width, "width", 0, "bucket width in seconds (0 = config value)")
	flag.StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.Parse()

	lg, _ := zap.NewProduction()
	defer lg.Sync()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		lg.Fatal("config", zap.Error(err))
	}
	if width <= 0 {
		width = cfg.Data.BucketWidthSec
	}
	bucketWidth := time.Duration(width) * time.Second

	var units []store.Unit
	if all {
		units, err = store.Scan(cfg.Data.Dir, ".csv")
		if err != nil {
			lg.Fatal("scan data dir", zap.Error(err))
		}
		if len(units) == 0 {
			lg.Fatal("no raw artifacts found", zap.String("dir", cfg.Data.Dir))
		}
	} else {
		if symbol == "" || date == "" {
			lg.Fatal("pass -symbol and -date, or -all")
		}
		units = []store.Unit{{Date: date, Symbol: symbol}}
	}

	if err := os.MkdirAll(cfg.Data.AggDir, 0o755); err != nil {
		lg.Fatal("agg dir", zap.Error(err))
	}

	// Holidays are irrelevant here: a raw artifact only exists for days the
	// fetcher confirmed were sessions, so the offline calendar suffices.
	cal := calendar.Weekdays{}
	ctx := context.Background()

	var sessions []aggregate.Session
	for _, u := range units {
		s, ok, err := aggregateUnit(ctx, lg, cal, cfg, u, bucketWidth)
		if err != nil {
			lg.Error("aggregate unit", zap.String("symbol", u.Symbol), zap.String("date", u.Date), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		sessions = append(sessions, s)
	}

	if all && len(sessions) > 0 {
		combined := aggregate.Combine(sessions)
		path := filepath.Join(cfg.Data.AggDir, "quoted_spread.json")
		if err := store.WriteCombined(path, combined); err != nil {
			lg.Fatal("write combined", zap.String("path", path), zap.Error(err))
		}
		lg.Info("wrote combined view",
			zap.String("path", path),
			zap.Int("sessions", len(sessions)),
			zap.Int("symbols", len(combined.Symbols)))
	}
}

func aggregateUnit(ctx context.Context, lg *zap.Logger, cal calendar.Source, cfg config.Config, u store.Unit, width time.Duration) (aggregate.Session, bool, error) {
	days, err := calendar.Range(ctx, cal, u.Date, u.Date)
	if err != nil {
		return aggregate.Session{}, false, err
	}
	if len(days) == 0 {
		lg.Warn("not a regular session day; skipping", zap.String("date", u.Date))
		return aggregate.Session{}, false, nil
	}
	day := days[0]

	quotes, err := store.ReadRaw(store.RawPath(cfg.Data.Dir, u.Date, u.Symbol))
	if err != nil {
		return aggregate.Session{}, false, err
	}

	s := aggregate.Build(u.Symbol, day.Window(), width, quotes, lg)
	if m, err := store.ReadManifest(store.ManifestPath(cfg.Data.Dir, u.Date, u.Symbol)); err == nil {
		s.RunID = m.RunID
		s.Source = m.Provider
	}

	path := store.SessionPath(cfg.Data.AggDir, u.Date, u.Symbol)
	if err := store.WriteSession(path, s); err != nil {
		return aggregate.Session{}, false, err
	}

	var nonEmpty int
	for _, b := range s.Buckets {
		if b.Stats != nil {
			nonEmpty++
		}
	}
	lg.Info("wrote session",
		zap.String("symbol", u.Symbol),
		zap.String("date", u.Date),
		zap.String("path", path),
		zap.Int("quotes", len(quotes)),
		zap.Int("buckets", len(s.Buckets)),
		zap.Int("non_empty", nonEmpty),
		zap.Int("anomalies", s.Anomalies.Total()))
	return s, true, nil
}
