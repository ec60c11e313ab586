package auth

import (
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig controls how long failed session checks are held
type TimingConfig struct {
	MinDuration time.Duration // Failed checks take at least this long
	Jitter      time.Duration // Extra random delay in [0, Jitter)
}

// TimingDelay pads failed authentication so response time does not reveal
// which check rejected the request.
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
	since  func(time.Time) time.Duration
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
		sleep:  time.Sleep,
		since:  time.Since,
	}
}

func (td *TimingDelay) target() time.Duration {
	target := td.config.MinDuration
	if td.config.Jitter > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.Jitter)))
		if err == nil {
			target += time.Duration(n.Int64())
		}
	}
	return target
}

// WaitFrom sleeps until at least the configured duration has passed since
// start. Successful checks return immediately.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if success {
		return
	}
	if remaining := td.target() - td.since(start); remaining > 0 {
		td.sleep(remaining)
	}
}
