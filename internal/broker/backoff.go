package broker

import "time"

// Backoff yields Base, 2*Base, 4*Base ... capped at Max. Reset after every
// successful connect.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempts int
}

func (b *Backoff) Next() time.Duration {
	d := b.delay(b.attempts)
	b.attempts++
	return d
}

func (b *Backoff) Reset() { b.attempts = 0 }

// Attempts is the number of consecutive failures since the last reset.
func (b *Backoff) Attempts() int { return b.attempts }

func (b *Backoff) delay(n int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	// 2^30 * base is past any sane cap
	if n > 30 {
		n = 30
	}
	d := base * time.Duration(1<<n)
	if b.Max > 0 && (d > b.Max || d <= 0) {
		return b.Max
	}
	return d
}
