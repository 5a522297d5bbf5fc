package journal

import (
	"testing"
	"time"
)

func TestBackoffCapped(t *testing.T) {
	j := New(nil, Config{MaxAttempts: 100, BackoffBase: time.Second, BackoffCap: 8 * time.Second})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := j.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
