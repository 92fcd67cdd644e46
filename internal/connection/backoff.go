package connection

import "time"

// Backoff is pure exponential backoff with a ceiling: the n-th retry waits
// min(Base * 2^n, Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := b.Base
	for i := 0; i < attempt; i++ {
		if delay > b.Max/2 {
			return b.Max
		}
		delay *= 2
	}

	if delay > b.Max {
		return b.Max
	}

	return delay
}
