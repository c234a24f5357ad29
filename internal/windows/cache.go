// Package windows precomputes, per link, the time intervals within one
// orbital period during which the link is unblocked, and answers
// "next visible instant" queries for unbounded simulation time via modular
// arithmetic. Caches are immutable after construction and safe for
// concurrent reads.
package windows

import "math"

// Interval is a half-open visibility window [Start, End) within [0, period).
type Interval struct {
	Start float64
	End   float64
}

// Cache holds the sorted, disjoint visibility intervals of one link over one
// orbital period.
type Cache struct {
	period    float64
	step      float64
	intervals []Interval
}

// Build samples blocked at the given step across one period and records each
// maximal unblocked run as one interval. The terminal interval is clamped to
// [.., period); wraparound into the next period is resolved at query time,
// not by merging. Discretization error is bounded by one step.
func Build(period, step float64, blocked func(float64) bool) *Cache {
	c := &Cache{period: period, step: step}

	t := 0.0
	for t < period {
		start := findNextVisible(blocked, t, period, step)
		if math.IsInf(start, 1) || start >= period {
			break
		}
		end := findFirstBlocked(blocked, start, period, step)
		if end > period {
			end = period
		}
		c.intervals = append(c.intervals, Interval{Start: start, End: end})
		t = end
	}

	return c
}

// findNextVisible returns the first sampled instant >= t0 where the link is
// unblocked, or +Inf if none exists within one period.
func findNextVisible(blocked func(float64) bool, t0, period, step float64) float64 {
	for t := t0; t <= t0+period; t += step {
		if !blocked(t) {
			return t
		}
	}
	return math.Inf(1)
}

// findFirstBlocked returns the first sampled instant > t0 where the link is
// blocked again, or t0+period if the link stays visible for a full period.
func findFirstBlocked(blocked func(float64) bool, t0, period, step float64) float64 {
	for t := t0 + step; t <= t0+period; t += step {
		if blocked(t) {
			return t
		}
	}
	return t0 + period
}

// Period returns the period the cache was built for.
func (c *Cache) Period() float64 { return c.period }

// Empty reports whether the link has no visible interval at all.
func (c *Cache) Empty() bool { return len(c.intervals) == 0 }

// Intervals returns a copy of the cached intervals.
func (c *Cache) Intervals() []Interval {
	out := make([]Interval, len(c.intervals))
	copy(out, c.intervals)
	return out
}

// Contains reports whether the phase t ∈ [0, period) falls inside a cached
// visibility interval.
func (c *Cache) Contains(t float64) bool {
	for _, iv := range c.intervals {
		if t >= iv.Start && t < iv.End {
			return true
		}
	}
	return false
}

// NextVisible returns the earliest visible instant >= the phase t within the
// period: t itself when inside an interval, otherwise the next interval
// start. When no interval remains before the period boundary it wraps to the
// first interval start and reports wrapped=true (caller adds one period).
// Must not be called on an empty cache.
func (c *Cache) NextVisible(t float64) (next float64, wrapped bool) {
	for _, iv := range c.intervals {
		if t < iv.End {
			if t >= iv.Start {
				return t, false
			}
			return iv.Start, false
		}
	}
	return c.intervals[0].Start, true
}

// Query returns the earliest absolute time >= t0 at which the link is
// visible, or +Inf when the link is never visible. t0 is reduced to a phase
// and a period count; a wrapped local answer adds exactly one period.
func (c *Cache) Query(t0 float64) float64 {
	if c.Empty() {
		return math.Inf(1)
	}

	phase := math.Mod(t0, c.period)
	base := c.period * math.Floor(t0/c.period)

	next, wrapped := c.NextVisible(phase)
	if wrapped {
		base += c.period
	}
	return next + base
}
