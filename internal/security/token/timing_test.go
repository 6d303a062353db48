package tokens

import (
	"math"
	"testing"
	"time"
)

// TestConstantTimeEquals_PrefixIndependence checks statistically that the
// comparison time does not depend on how many leading bytes of the wrong
// value are correct. The bound is deliberately generous; the point is to
// catch a short-circuiting comparison, which shows an order-of-magnitude
// skew, not scheduler jitter.
func TestConstantTimeEquals_PrefixIndependence(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical timing test")
	}

	const iterations = 20000
	secret := "0123456789abcdef0123456789abcdef0123456789ab"

	// Candidate A: wrong from the first byte. Candidate B: correct except the
	// last byte.
	wrongAll := "X123456789abcdef0123456789abcdef0123456789ab"
	wrongLast := "0123456789abcdef0123456789abcdef0123456789aX"

	measure := func(candidate string) float64 {
		// Warm up.
		for i := 0; i < 1000; i++ {
			ConstantTimeEquals(secret, candidate)
		}
		start := time.Now()
		for i := 0; i < iterations; i++ {
			ConstantTimeEquals(secret, candidate)
		}
		return float64(time.Since(start).Nanoseconds()) / iterations
	}

	a := measure(wrongAll)
	b := measure(wrongLast)

	// A short-circuit comparison would differ by ~len(secret)x. Allow a wide
	// 3x band for noise.
	ratio := math.Max(a, b) / math.Min(a, b)
	if ratio > 3.0 {
		t.Fatalf("comparison time depends on matching prefix: %0.1fns vs %0.1fns (ratio %0.2f)", a, b, ratio)
	}
}
