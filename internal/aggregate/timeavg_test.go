package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sample(offset time.Duration, v string) Sample {
	return Sample{Offset: offset, Value: decimal.RequireFromString(v)}
}

func checkAverages(t *testing.T, got []decimal.Decimal, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("want %d intervals, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Fatalf("interval %d: want %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
}

func TestTimeWeightedAverages_WholeSecondSteps(t *testing.T) {
	samples := []Sample{
		sample(0, "5"),
		sample(1*time.Second, "6"),
		sample(2*time.Second, "7"),
	}
	got := TimeWeightedAverages(samples, time.Second, 4*time.Second)
	checkAverages(t, got, []string{"5", "6", "7", "7"})
}

func TestTimeWeightedAverages_FractionalSteps(t *testing.T) {
	samples := []Sample{
		sample(0, "5"),
		sample(500*time.Millisecond, "6"),
		sample(2500*time.Millisecond, "7"),
		sample(3500*time.Millisecond, "8"),
	}
	got := TimeWeightedAverages(samples, time.Second, 4*time.Second)
	checkAverages(t, got, []string{"5.5", "6", "6.5", "7.5"})
}

func TestTimeWeightedAverages_UnevenSteps(t *testing.T) {
	samples := []Sample{
		sample(0, "5"),
		sample(100*time.Millisecond, "6"),
		sample(1750*time.Millisecond, "7"),
		sample(2*time.Second, "8"),
	}
	got := TimeWeightedAverages(samples, time.Second, 4*time.Second)
	checkAverages(t, got, []string{"5.9", "6.25", "8", "8"})
}

func TestTimeWeightedAverages_SkippedIntervalsHoldLastValue(t *testing.T) {
	samples := []Sample{
		sample(0, "5"),
		sample(3*time.Second, "9"),
	}
	got := TimeWeightedAverages(samples, time.Second, 4*time.Second)
	checkAverages(t, got, []string{"5", "5", "5", "9"})
}

func TestTimeWeightedAverages_SamplesBeyondSpanIgnored(t *testing.T) {
	samples := []Sample{
		sample(0, "5"),
		sample(10*time.Second, "100"),
	}
	got := TimeWeightedAverages(samples, time.Second, 2*time.Second)
	checkAverages(t, got, []string{"5", "5"})
}

func TestTimeWeightedAverages_Empty(t *testing.T) {
	if got := TimeWeightedAverages(nil, time.Second, time.Minute); got != nil {
		t.Fatalf("want nil for empty input, got %v", got)
	}
}
