package cursor

import "math"

// Sampler decides which "processing row N" lines are logged. It counts
// calls, not rows that succeeded.
type Sampler struct {
	every int
	n     int
}

// NewSampler returns a Sampler for rate. A rate of 1 or more (or an unset
// rate) logs every row; otherwise every round(1/rate)-th row is logged.
func NewSampler(rate float64) *Sampler {
	every := 1
	if rate > 0 && rate < 1 {
		every = int(math.Round(1 / rate))
	}
	if every < 1 {
		every = 1
	}
	return &Sampler{every: every}
}

// ShouldLog advances the counter and reports whether this call is logged.
func (s *Sampler) ShouldLog() bool {
	s.n++
	return s.n%s.every == 0
}
