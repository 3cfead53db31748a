package link

import (
	"math/rand"
	"time"
)

// Delay returns how long Connect waits after failed dial attempt n
// (1-based) before redialing the engine. Growth stops at MaxDelay, so
// long retry loops never overflow.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	grow := b.Multiplier
	if grow < 1 {
		grow = 1
	}
	d := float64(b.InitialDelay)
	for i := 1; i < n; i++ {
		d *= grow
		if b.MaxDelay > 0 && d >= float64(b.MaxDelay) {
			d = float64(b.MaxDelay)
			break
		}
	}
	if b.Jitter {
		d *= jitterFactor(rng)
	}
	return time.Duration(d)
}

// jitterFactor spreads redials over [0.5, 1.5) of the nominal delay.
func jitterFactor(rng *rand.Rand) float64 {
	if rng == nil {
		return 0.5
	}
	return 0.5 + rng.Float64()
}
