package core

import (
	"math"
	"math/rand"
	"sync"
)

// fibCap bounds the fibonacci index used by the fibonacci strategy.
const fibCap = 12

// fibTable holds fib(0)..fib(fibCap), computed iteratively once.
var fibTable = func() [fibCap + 1]int64 {
	var t [fibCap + 1]int64
	t[1] = 1
	for i := 2; i <= fibCap; i++ {
		t[i] = t[i-1] + t[i-2]
	}
	return t
}()

// Fibonacci returns fib(min(n, 12)), with fib(0)=0 and fib(1)=1.
func Fibonacci(n int) int64 {
	if n <= 0 {
		return 0
	}
	if n > fibCap {
		n = fibCap
	}
	return fibTable[n]
}

// CalculateBackoff computes the delay in milliseconds to wait before the given
// attempt (the attempt about to be scheduled, >= 2). The strategy value is capped
// at MaxDelayMs before symmetric jitter is applied, and the result is never negative.
//
// rng drives the decorrelated_jitter strategy and the jitter term; pass a seeded
// source for reproducible results. decorrelated_jitter is randomized on purpose
// and is only reproducible for a fixed seed and call sequence.
func CalculateBackoff(policy *RetryPolicy, attempt int, rng *rand.Rand) int64 {
	if policy == nil {
		p := DefaultRetryPolicy()
		policy = &p
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	initial := float64(policy.InitialDelayMs)
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	var delay float64
	switch policy.Strategy {
	case StrategyLinear:
		delay = initial * float64(attempt)
	case StrategyFibonacci:
		delay = initial * float64(Fibonacci(attempt))
	case StrategyConstant:
		delay = initial
	case StrategyDecorrelatedJitter:
		prev := initial * math.Pow(multiplier, float64(attempt-2))
		lo, hi := initial, 3*prev
		if hi < lo {
			lo, hi = hi, lo
		}
		delay = lo + rng.Float64()*(hi-lo)
	default:
		delay = initial * math.Pow(multiplier, float64(attempt-1))
	}

	if maxDelay := float64(policy.MaxDelayMs); policy.MaxDelayMs > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if math.IsNaN(delay) || delay < 0 {
		delay = 0
	}

	if policy.JitterPct > 0 {
		u := rng.Float64()*2 - 1
		delay += delay * policy.JitterPct * u
	}
	if delay < 0 {
		delay = 0
	}
	return int64(math.Floor(delay))
}

// Backoff is a goroutine-safe calculator owning its own random source.
type Backoff struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff returns a Backoff seeded with seed.
func NewBackoff(seed int64) *Backoff {
	return &Backoff{rng: rand.New(rand.NewSource(seed))}
}

// Delay returns the delay in milliseconds before attempt.
func (b *Backoff) Delay(policy *RetryPolicy, attempt int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CalculateBackoff(policy, attempt, b.rng)
}
