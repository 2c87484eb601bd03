package queue

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base, max := 30*time.Second, 5*time.Minute
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{40, 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := Backoff(base, max, tc.n); got != tc.want {
			t.Fatalf("Backoff(%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
	if got := Backoff(0, max, 3); got != 0 {
		t.Fatalf("zero base should disable backoff, got %s", got)
	}
}
