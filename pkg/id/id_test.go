package id

import (
	"sort"
	"testing"
)

func TestNextIsMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 10_000; i++ {
		cur := g.Next()
		if cur.String() <= prev.String() {
			t.Fatalf("id %s not greater than %s", cur, prev)
		}
		prev = cur
	}
}

func TestMonotonicAcrossClockRegression(t *testing.T) {
	times := []int64{1000, 1000, 900, 1100}
	i := 0
	g := &Generator{clk: func() int64 { v := times[i]; i++; return v }}

	ids := make([]string, 0, len(times))
	for range times {
		ids = append(ids, g.Next().String())
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("ids not sorted under clock regression: %v", ids)
	}
}

func TestParseRoundTrip(t *testing.T) {
	g := NewGenerator()
	want := g.Next()
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: %s vs %s", got, want)
	}

	if _, err := Parse("zz"); err == nil {
		t.Fatalf("expected error for short input")
	}
}
