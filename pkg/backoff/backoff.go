package backoff

import (
	"math"
	"time"
)

// Exponential returns base doubled per attempt, capped at max. Attempt 1
// yields base.
func Exponential(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * mul)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// ExponentialJitter is Exponential with +/- 20% jitter to spread retries.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	d := Exponential(base, max, attempt)
	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(time.Now().UnixNano()%int64(2*j))
}
