package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"etfspread/internal/aggregate"
	"etfspread/internal/etf"
	"etfspread/internal/store"
)

// sessionSource is what the handlers read from. Backed by the artifact
// directories in production, faked in tests.
type sessionSource interface {
	List(ctx context.Context) ([]store.Unit, error)
	Session(ctx context.Context, date, symbol string) (aggregate.Session, error)
	Summary(ctx context.Context) (summary, error)
}

// summary is the cross-day payload for the landing view.
type summary struct {
	Combined aggregate.Combined `json:"combined"`
	ETFs     []etf.Meta         `json:"etfs,omitempty"`
	Volume   store.ETFInfo      `json:"volume,omitempty"`
}

type cachedSession struct {
	session aggregate.Session
	loaded  time.Time
}

// diskLoader reads aggregated artifacts off disk with a small TTL cache.
// Concurrent cache misses for the same key collapse into one read.
type diskLoader struct {
	aggDir  string
	dataDir string
	table   *etf.Table
	ttl     time.Duration

	mu       sync.RWMutex
	sessions map[string]cachedSession
	sf       singleflight.Group
}

func newDiskLoader(aggDir, dataDir string, table *etf.Table, ttl time.Duration) *diskLoader {
	return &diskLoader{
		aggDir:   aggDir,
		dataDir:  dataDir,
		table:    table,
		ttl:      ttl,
		sessions: map[string]cachedSession{},
	}
}

func (l *diskLoader) List(_ context.Context) ([]store.Unit, error) {
	return store.Scan(l.aggDir, ".json")
}

func (l *diskLoader) Session(_ context.Context, date, symbol string) (aggregate.Session, error) {
	key := date + "_" + symbol

	l.mu.RLock()
	c, ok := l.sessions[key]
	l.mu.RUnlock()
	if ok && time.Since(c.loaded) < l.ttl {
		return c.session, nil
	}

	v, err, _ := l.sf.Do(key, func() (any, error) {
		s, err := store.ReadSession(store.SessionPath(l.aggDir, date, symbol))
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.sessions[key] = cachedSession{session: s, loaded: time.Now()}
		l.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return aggregate.Session{}, err
	}
	return v.(aggregate.Session), nil
}

func (l *diskLoader) Summary(_ context.Context) (summary, error) {
	var out summary

	combined, err := store.ReadCombined(filepath.Join(l.aggDir, "quoted_spread.json"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return out, err
		}
		combined = aggregate.Combined{}
	}
	out.Combined = combined

	if l.table != nil {
		for sym := range combined.Symbols {
			if m, ok := l.table.Lookup(sym); ok {
				out.ETFs = append(out.ETFs, m)
			}
		}
		sort.Slice(out.ETFs, func(i, j int) bool { return out.ETFs[i].Symbol < out.ETFs[j].Symbol })
	}

	if info, err := store.ReadETFInfo(filepath.Join(l.dataDir, "etf_info.json")); err == nil {
		out.Volume = info
	}
	return out, nil
}
