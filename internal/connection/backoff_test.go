package connection

import (
	"math"
	"testing"
	"time"
)

func TestReconnectDelay(t *testing.T) {
	base, max := time.Second, 30*time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
		{math.MaxInt32, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := ReconnectDelay(tt.attempt, base, max); got != tt.want {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestReconnectDelay_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for k := 1; k <= 100; k++ {
		d := ReconnectDelay(k, 250*time.Millisecond, time.Minute)
		if d < prev {
			t.Fatalf("ReconnectDelay(%d) = %v, below previous %v", k, d, prev)
		}
		if d > time.Minute {
			t.Fatalf("ReconnectDelay(%d) = %v, above cap", k, d)
		}
		prev = d
	}
}
