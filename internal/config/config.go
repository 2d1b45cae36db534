package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Polygon struct {
	Enabled               bool   `json:"enabled"`
	APIKey                string `json:"api_key"`
	Endpoint              string `json:"endpoint"`
	PageLimit             int    `json:"page_limit"`
	MaxPages              int    `json:"max_pages"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec"`
	Burst                 int    `json:"burst"`
}

type Alpaca struct {
	Enabled               bool   `json:"enabled"`
	KeyID                 string `json:"key_id"`
	SecretKey             string `json:"secret_key"`
	Endpoint              string `json:"endpoint"`
	DataEndpoint          string `json:"data_endpoint"`
	PageLimit             int    `json:"page_limit"`
	MaxPages              int    `json:"max_pages"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec"`
	Burst                 int    `json:"burst"`
}

type Data struct {
	Dir                string `json:"dir"`
	AggDir             string `json:"agg_dir"`
	ETFFile            string `json:"etf_file"`
	BucketWidthSec     int    `json:"bucket_width_sec"`
	SessionCacheTTLSec int    `json:"session_cache_ttl_sec"`
}

type Config struct {
	Server  Server  `json:"server"`
	Polygon Polygon `json:"polygon"`
	Alpaca  Alpaca  `json:"alpaca"`
	Data    Data    `json:"data"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30},
		Polygon: Polygon{
			Enabled:              true,
			PageLimit:            50000,
			MaxPages:             200,
			MaxRequestsPerMinute: 5,
			Burst:                1,
		},
		Alpaca: Alpaca{
			Enabled:   true,
			PageLimit: 10000,
			MaxPages:  200,
		},
		Data: Data{
			Dir:                "data",
			AggDir:             "data/agg",
			ETFFile:            "etf.csv",
			BucketWidthSec:     60,
			SessionCacheTTLSec: 60,
		},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. A .env file is loaded first when present; environment
// variables override select fields for secrecy.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	setInt(&cfg.Server.RequestTimeoutSec, "REQUEST_TIMEOUT_SEC")

	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Polygon.APIKey = v
	}
	if v := os.Getenv("POLYGON_ENDPOINT"); v != "" {
		cfg.Polygon.Endpoint = v
	}
	setInt(&cfg.Polygon.PageLimit, "POLYGON_PAGE_LIMIT")
	setInt(&cfg.Polygon.MaxPages, "POLYGON_MAX_PAGES")
	setInt(&cfg.Polygon.MaxRequestsPerMinute, "POLYGON_MAX_RPM")
	setInt(&cfg.Polygon.MinRequestIntervalSec, "POLYGON_MIN_INTERVAL_SEC")
	setInt(&cfg.Polygon.Burst, "POLYGON_BURST")

	// Alpaca's SDKs read these exact names; keep them for drop-in keys.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.KeyID = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.SecretKey = v
	}
	if v := os.Getenv("ALPACA_ENDPOINT"); v != "" {
		cfg.Alpaca.Endpoint = v
	}
	if v := os.Getenv("ALPACA_DATA_ENDPOINT"); v != "" {
		cfg.Alpaca.DataEndpoint = v
	}
	setInt(&cfg.Alpaca.PageLimit, "ALPACA_PAGE_LIMIT")
	setInt(&cfg.Alpaca.MaxPages, "ALPACA_MAX_PAGES")
	setInt(&cfg.Alpaca.MaxRequestsPerMinute, "ALPACA_MAX_RPM")
	setInt(&cfg.Alpaca.MinRequestIntervalSec, "ALPACA_MIN_INTERVAL_SEC")
	setInt(&cfg.Alpaca.Burst, "ALPACA_BURST")

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("AGG_DIR"); v != "" {
		cfg.Data.AggDir = v
	}
	if v := os.Getenv("ETF_FILE"); v != "" {
		cfg.Data.ETFFile = v
	}
	setInt(&cfg.Data.BucketWidthSec, "BUCKET_WIDTH_SEC")
	setInt(&cfg.Data.SessionCacheTTLSec, "SESSION_CACHE_TTL_SEC")
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		var x int
		if _, err := fmt.Sscanf(v, "%d", &x); err == nil && x > 0 {
			*dst = x
		}
	}
}
