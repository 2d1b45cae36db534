package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"etfspread/internal/calendar"
	"etfspread/internal/config"
	"etfspread/internal/etf"
	"etfspread/internal/httpx"
	"etfspread/internal/provider"
	"etfspread/internal/provider/alpaca"
	"etfspread/internal/provider/polygon"
	"etfspread/internal/provider/ratelimit"
	"etfspread/internal/store"
)

func main() {
	var (
		symbolsCSV   string
		date         string
		start        string
		end          string
		providerName string
		cfgPath      string
		timeout      int
		force        bool
		withVolume   bool
	)
	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", ""), "comma-separated ETF tickers (default: for_data symbols from the reference table)")
	flag.StringVar(&date, "date", "", "single trading date YYYY-MM-DD (shorthand for -start/-end)")
	flag.StringVar(&start, "start", "", "first date of range YYYY-MM-DD")
	flag.StringVar(&end, "end", "", "last date of range YYYY-MM-DD")
	flag.StringVar(&providerName, "provider", getenv("QUOTE_PROVIDER", "polygon"), "quote provider: polygon or alpaca")
	flag.StringVar(&cfgPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
	flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 0), "HTTP request timeout seconds (0 = config value)")
	flag.BoolVar(&force, "force", false, "re-fetch even when the raw artifact already exists")
	flag.BoolVar(&withVolume, "volume", false, "also write the average-volume annotation artifact (needs Alpaca keys)")
	flag.Parse()

	lg, _ := zap.NewProduction()
	defer lg.Sync()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		lg.Fatal("config", zap.Error(err))
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}
	if date != "" {
		start, end = date, date
	}
	if start == "" || end == "" {
		lg.Fatal("missing date range: pass -date or -start and -end")
	}

	table, err := etf.Load(cfg.Data.ETFFile)
	if err != nil {
		lg.Fatal("etf table", zap.Error(err))
	}
	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		symbols = table.Symbols(true)
	}
	if len(symbols) == 0 {
		lg.Fatal("no symbols: pass -symbols or mark for_data rows in the reference table")
	}
	for _, s := range symbols {
		if _, err := table.Require(s); err != nil {
			lg.Fatal("symbol validation", zap.Error(err))
		}
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var alpacaClient *alpaca.Client
	if cfg.Alpaca.Enabled && cfg.Alpaca.KeyID != "" {
		alpacaClient, err = newAlpacaClient(cfg, httpClient)
		if err != nil {
			lg.Fatal("alpaca client", zap.Error(err))
		}
	}

	var calSrc calendar.Source
	if alpacaClient != nil {
		calSrc = alpacaClient
	} else {
		lg.Info("no Alpaca keys configured; assuming every weekday is a regular session")
		calSrc = calendar.Weekdays{}
	}

	ctx := context.Background()
	days, err := calendar.Range(ctx, calSrc, start, end)
	if err != nil {
		lg.Fatal("date range validation", zap.Error(err))
	}
	if len(days) == 0 {
		lg.Fatal("no regular trading sessions in range", zap.String("start", start), zap.String("end", end))
	}

	prov, err := buildProvider(cfg, providerName, httpClient, alpacaClient)
	if err != nil {
		lg.Fatal("provider", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		lg.Fatal("data dir", zap.Error(err))
	}

	for _, day := range days {
		fetchDay(ctx, lg, prov, day, symbols, cfg.Data.Dir, force)
	}

	if withVolume {
		if alpacaClient == nil {
			lg.Fatal("-volume needs Alpaca keys configured")
		}
		writeVolumes(ctx, lg, alpacaClient, symbols, start, end, cfg.Data.Dir)
	}
}

// fetchDay fans out the day's symbols, collects results and persists each
// completed unit. A failed unit aborts only itself. Units carry no deadline:
// a paced historic fetch legitimately spans many page intervals, and the
// per-request timeout already lives on the HTTP client.
func fetchDay(ctx context.Context, lg *zap.Logger, prov provider.Provider, day calendar.Day, symbols []string, dir string, force bool) {
	type result struct {
		symbol string
		quotes []provider.Quote
		err    error
	}

	pending := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		path := store.RawPath(dir, day.Date, sym)
		if !force {
			if _, err := os.Stat(path); err == nil {
				lg.Info("raw artifact already exists; skipping", zap.String("path", path))
				continue
			}
		}
		pending = append(pending, sym)
	}
	if len(pending) == 0 {
		return
	}

	ch := make(chan result, len(pending))
	for _, sym := range pending {
		sym := sym
		go func() {
			qs, err := prov.Fetch(ctx, sym, day.Window())
			ch <- result{symbol: sym, quotes: qs, err: err}
		}()
	}

	for i := 0; i < len(pending); i++ {
		r := <-ch
		if r.err != nil {
			var re *provider.RetrievalError
			if errors.As(r.err, &re) {
				lg.Error("retrieval failed", zap.String("symbol", r.symbol), zap.String("date", day.Date), zap.Error(r.err))
			} else {
				lg.Error("fetch failed", zap.String("symbol", r.symbol), zap.String("date", day.Date), zap.Error(r.err))
			}
			continue
		}

		path := store.RawPath(dir, day.Date, r.symbol)
		if err := store.WriteRaw(path, r.quotes); err != nil {
			lg.Error("write raw", zap.String("path", path), zap.Error(err))
			continue
		}
		m := store.Manifest{
			RunID:     uuid.NewString(),
			Symbol:    r.symbol,
			Date:      day.Date,
			Provider:  prov.Name(),
			Quotes:    len(r.quotes),
			FetchedAt: time.Now().UTC(),
		}
		if err := store.WriteManifest(store.ManifestPath(dir, day.Date, r.symbol), m); err != nil {
			lg.Error("write manifest", zap.String("symbol", r.symbol), zap.Error(err))
			continue
		}
		lg.Info("fetched unit",
			zap.String("symbol", r.symbol),
			zap.String("date", day.Date),
			zap.Int("quotes", len(r.quotes)),
			zap.String("run_id", m.RunID))
	}
}

func writeVolumes(ctx context.Context, lg *zap.Logger, client *alpaca.Client, symbols []string, start, end, dir string) {
	info := store.ETFInfo{}
	for _, sym := range symbols {
		v, err := client.AverageDailyVolume(ctx, sym, start, end)
		if err != nil {
			lg.Error("average volume", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		info[sym] = v
	}
	path := filepath.Join(dir, "etf_info.json")
	if err := store.WriteETFInfo(path, info); err != nil {
		lg.Error("write etf info", zap.String("path", path), zap.Error(err))
		return
	}
	lg.Info("wrote etf info", zap.String("path", path), zap.Int("symbols", len(info)))
}

func buildProvider(cfg config.Config, name string, hc *httpx.Client, alpacaClient *alpaca.Client) (provider.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "polygon":
		if !cfg.Polygon.Enabled || cfg.Polygon.APIKey == "" {
			return nil, fmt.Errorf("polygon not configured; set POLYGON_API_KEY or config.json")
		}
		opts := []polygon.ClientOption{
			polygon.WithHTTPClient(hc),
			polygon.WithPageLimit(cfg.Polygon.PageLimit),
			polygon.WithMaxPages(cfg.Polygon.MaxPages),
		}
		if cfg.Polygon.Endpoint != "" {
			opts = append(opts, polygon.WithBaseURL(cfg.Polygon.Endpoint))
		}
		if cfg.Polygon.MaxRequestsPerMinute > 0 {
			rate := float64(cfg.Polygon.MaxRequestsPerMinute) / 60.0
			burst := cfg.Polygon.Burst
			if burst <= 0 {
				burst = 1
			}
			// Pace page requests inside the cursor loop, not whole units.
			opts = append(opts, polygon.WithPacer(ratelimit.NewTokenBucket(rate, burst)))
		}
		client, err := polygon.NewClient(cfg.Polygon.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		var p provider.Provider = client
		if cfg.Polygon.MinRequestIntervalSec > 0 {
			p = &ratelimit.MinInterval{P: p, Interval: time.Duration(cfg.Polygon.MinRequestIntervalSec) * time.Second}
		}
		return p, nil

	case "alpaca":
		if alpacaClient == nil {
			return nil, fmt.Errorf("alpaca not configured; set APCA_API_KEY_ID / APCA_API_SECRET_KEY")
		}
		var p provider.Provider = alpacaClient
		if cfg.Alpaca.MaxRequestsPerMinute > 0 {
			rate := float64(cfg.Alpaca.MaxRequestsPerMinute) / 60.0
			burst := cfg.Alpaca.Burst
			if burst <= 0 {
				burst = 1
			}
			p = &ratelimit.TokenBucketProvider{P: p, TB: ratelimit.NewTokenBucket(rate, burst)}
		} else if cfg.Alpaca.MinRequestIntervalSec > 0 {
			p = &ratelimit.MinInterval{P: p, Interval: time.Duration(cfg.Alpaca.MinRequestIntervalSec) * time.Second}
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown provider %q (want polygon or alpaca)", name)
}

func newAlpacaClient(cfg config.Config, hc *httpx.Client) (*alpaca.Client, error) {
	opts := []alpaca.ClientOption{
		alpaca.WithHTTPClient(hc),
		alpaca.WithPageLimit(cfg.Alpaca.PageLimit),
		alpaca.WithMaxPages(cfg.Alpaca.MaxPages),
	}
	if cfg.Alpaca.Endpoint != "" {
		opts = append(opts, alpaca.WithTradingURL(cfg.Alpaca.Endpoint))
	}
	if cfg.Alpaca.DataEndpoint != "" {
		opts = append(opts, alpaca.WithDataURL(cfg.Alpaca.DataEndpoint))
	}
	return alpaca.NewClient(cfg.Alpaca.KeyID, cfg.Alpaca.SecretKey, opts...)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x != 0 {
			return x
		}
	}
	return def
}
