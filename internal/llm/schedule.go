package llm

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// schedule yields retry waits that never decrease and never exceed max.
// The exponential base comes from backoff with jitter disabled; a provider
// hint raises a wait but cannot push it past max.
type schedule struct {
	exp  *backoff.ExponentialBackOff
	last time.Duration
	max  time.Duration
}

func newSchedule(initial, max time.Duration) *schedule {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &schedule{exp: b, max: max}
}

func (s *schedule) next(hint time.Duration) time.Duration {
	d := s.exp.NextBackOff()
	if d == backoff.Stop {
		d = s.max
	}
	if hint > d {
		d = hint
	}
	if d > s.max {
		d = s.max
	}
	if d < s.last {
		d = s.last
	}
	s.last = d
	return d
}
