package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"etfspread/internal/aggregate"
	"etfspread/internal/provider"
	"etfspread/internal/store"
)

type fakeSource struct {
	units    []store.Unit
	sessions map[string]aggregate.Session
	summ     summary
}

func (f fakeSource) List(_ context.Context) ([]store.Unit, error) { return f.units, nil }

func (f fakeSource) Session(_ context.Context, date, symbol string) (aggregate.Session, error) {
	s, ok := f.sessions[date+"_"+symbol]
	if !ok {
		return aggregate.Session{}, os.ErrNotExist
	}
	return s, nil
}

func (f fakeSource) Summary(_ context.Context) (summary, error) { return f.summ, nil }

func testSession() aggregate.Session {
	open := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	w := provider.Window{Date: "2021-01-04", Open: open, Close: open.Add(6*time.Hour + 30*time.Minute)}
	quotes := []provider.Quote{
		{
			Timestamp: open,
			BidPrice:  decimal.RequireFromString("10.00"),
			BidSize:   1,
			AskPrice:  decimal.RequireFromString("10.05"),
			AskSize:   1,
		},
	}
	return aggregate.Build("SPY", w, time.Minute, quotes, nil)
}

func newTestSource() fakeSource {
	return fakeSource{
		units: []store.Unit{{Date: "2021-01-04", Symbol: "SPY"}},
		sessions: map[string]aggregate.Session{
			"2021-01-04_SPY": testSession(),
		},
	}
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	newMux(newTestSource()).ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != 200 || rr.Body.String() != "ok" {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListSessions(t *testing.T) {
	rr := httptest.NewRecorder()
	newMux(newTestSource()).ServeHTTP(rr, httptest.NewRequest("GET", "/api/sessions", nil))
	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Sessions []store.Unit `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Symbol != "SPY" {
		t.Fatalf("unexpected list: %+v", resp.Sessions)
	}
}

func TestGetSession(t *testing.T) {
	rr := httptest.NewRecorder()
	newMux(newTestSource()).ServeHTTP(rr, httptest.NewRequest("GET", "/api/sessions/2021-01-04/SPY", nil))
	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var s aggregate.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Symbol != "SPY" || s.Date != "2021-01-04" || len(s.Buckets) != 390 {
		t.Fatalf("unexpected session: symbol=%s date=%s buckets=%d", s.Symbol, s.Date, len(s.Buckets))
	}
	if s.Buckets[0].Stats == nil || s.Buckets[0].Stats.Count != 1 {
		t.Fatalf("first bucket: %+v", s.Buckets[0].Stats)
	}
}

func TestGetSession_LowercaseSymbol(t *testing.T) {
	rr := httptest.NewRecorder()
	newMux(newTestSource()).ServeHTTP(rr, httptest.NewRequest("GET", "/api/sessions/2021-01-04/spy", nil))
	if rr.Code != 200 {
		t.Fatalf("symbol must be normalized: status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetSession_NotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	newMux(newTestSource()).ServeHTTP(rr, httptest.NewRequest("GET", "/api/sessions/2021-01-05/SPY", nil))
	if rr.Code != 404 {
		t.Fatalf("want 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetSession_BadPath(t *testing.T) {
	for _, path := range []string{
		"/api/sessions/2021-01-04",
		"/api/sessions/not-a-date/SPY",
		"/api/sessions/2021-01-04/SPY/extra",
	} {
		rr := httptest.NewRecorder()
		newMux(newTestSource()).ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
		if rr.Code != 400 {
			t.Fatalf("%s: want 400, got %d", path, rr.Code)
		}
	}
}

func TestSummary(t *testing.T) {
	src := newTestSource()
	mean := decimal.RequireFromString("0.005")
	src.summ = summary{
		Combined: aggregate.Combined{
			BucketWidthSec: 60,
			OffsetsSec:     []int64{30},
			Symbols:        map[string][]*decimal.Decimal{"SPY": {&mean}},
			Dates:          []string{"2021-01-04"},
		},
	}

	rr := httptest.NewRecorder()
	newMux(src).ServeHTTP(rr, httptest.NewRequest("GET", "/api/summary", nil))
	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp summary
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	row := resp.Combined.Symbols["SPY"]
	if len(row) != 1 || row[0] == nil || row[0].String() != "0.005" {
		t.Fatalf("combined row: %v", row)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	newMux(newTestSource()).ServeHTTP(rr, httptest.NewRequest("POST", "/api/sessions", nil))
	if rr.Code != 405 {
		t.Fatalf("want 405, got %d", rr.Code)
	}
}
