package stream

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		name    string
		attempt int
		rnd     float64
		want    time.Duration
	}{
		{"first retry centre", 0, 0.5, time.Second},
		{"second retry centre", 1, 0.5, 2 * time.Second},
		{"fourth retry centre", 3, 0.5, 8 * time.Second},
		{"capped", 10, 0.5, 30 * time.Second},
		{"low jitter", 0, 0, 800 * time.Millisecond},
		{"jitter never exceeds max", 20, 0.999, 30 * time.Second},
		{"low jitter at cap", 20, 0, 24 * time.Second},
		{"negative attempt", -3, 0.5, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Delay(tt.attempt, tt.rnd); got != tt.want {
				t.Errorf("Delay(%d, %v) = %v, want %v", tt.attempt, tt.rnd, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay_Bounds(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 0; attempt < 12; attempt++ {
		for _, rnd := range []float64{0, 0.25, 0.5, 0.75, 0.9999} {
			d := b.Delay(attempt, rnd)
			if d < time.Duration(float64(b.Base)*(1-b.Jitter)) || d > b.Max {
				t.Errorf("Delay(%d, %v) = %v outside [%v, %v]", attempt, rnd, d, b.Base, b.Max)
			}
		}
	}
}

func TestBackoffWithDefaults(t *testing.T) {
	got := Backoff{Base: 5 * time.Second, Max: time.Second, Multiplier: 0.5, Jitter: 3}.withDefaults()
	if got.Max != 5*time.Second {
		t.Errorf("Max = %v, want raised to Base", got.Max)
	}
	if got.Multiplier != 2 || got.Jitter != 0.2 {
		t.Errorf("invalid multiplier/jitter not replaced: %+v", got)
	}
	if (Backoff{}).withDefaults() != DefaultBackoff() {
		t.Error("zero Backoff should take all defaults")
	}
}

func TestBackoffNegativeJitterDisables(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Multiplier: 2, Jitter: -1}.withDefaults()
	if b.Jitter >= 0 {
		t.Fatalf("Jitter = %v, want negative kept", b.Jitter)
	}
	for _, rnd := range []float64{0, 0.5, 0.9999} {
		if got := b.Delay(2, rnd); got != 4*time.Second {
			t.Errorf("Delay(2, %v) = %v, want 4s", rnd, got)
		}
	}
}
