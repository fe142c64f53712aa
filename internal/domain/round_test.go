package domain

import (
	"testing"
	"time"
)

func TestRoundIsActive(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name      string
		closesAt  time.Time
		remaining float64
		want      bool
	}{
		{"open with inventory", now.Add(time.Hour), 10, true},
		{"expired", now.Add(-time.Minute), 10, false},
		{"sold out", now.Add(time.Hour), 0, false},
		{"expired and sold out", now.Add(-time.Minute), 0, false},
		{"closes exactly now", now, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Round{ClosesAt: tc.closesAt, RemainingQuantity: tc.remaining}
			if got := r.IsActive(now); got != tc.want {
				t.Errorf("IsActive = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUniqKey(t *testing.T) {
	got := UniqKey(137, "0xabc123", 7)
	if got != "137:0xabc123:7" {
		t.Fatalf("UniqKey = %q", got)
	}
}
