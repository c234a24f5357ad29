// Package oracle answers when a link can actually be used: next visibility
// from the interval caches, and next communication folding in antenna
// alignment feasibility. Infeasibility is a normal return value signalled by
// +Inf and an Outcome, never an error.
package oracle

import (
	"math"

	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/windows"
)

// SampleSource supplies the engine with each body's current antenna
// orientation. The source is owned by the caller; the engine only reads it.
type SampleSource interface {
	Orientation(body int) instance.Sample
}

// Outcome classifies a NextCommunication result.
type Outcome int

const (
	// Feasible: communication is possible at Result.Time.
	Feasible Outcome = iota
	// NeverVisible: the link has no visible interval at all.
	NeverVisible
	// Unalignable: the link becomes visible but no simultaneously visible
	// and alignable instant exists within the reorientation horizon.
	Unalignable
)

// String returns the outcome label used in API payloads and metrics.
func (o Outcome) String() string {
	switch o {
	case Feasible:
		return "feasible"
	case NeverVisible:
		return "never_visible"
	case Unalignable:
		return "unalignable"
	}
	return "unknown"
}

// Result is the answer to a NextCommunication query. Time is +Inf for the
// two infeasible outcomes.
type Result struct {
	Time    float64
	Outcome Outcome
}

// Engine evaluates link usability over immutable inputs (instance, interval
// caches) plus the externally owned orientation state.
type Engine struct {
	inst *instance.Instance
	set  *windows.Set
	src  SampleSource
	step float64
}

// New creates an engine. step is the sampling resolution in seconds shared
// with the cache build; all comparisons use this grid, no sub-step
// interpolation is attempted.
func New(inst *instance.Instance, set *windows.Set, src SampleSource, step float64) *Engine {
	return &Engine{inst: inst, set: set, src: src, step: step}
}

// LowerBound returns the minimum over all links of the time to first
// visibility from t=0, ignoring alignment. Never-visible links are excluded.
// Returns 0 when no link has a finite first-visibility time — an optimistic
// bound for pruning schedule search spaces.
func (e *Engine) LowerBound() float64 {
	bound := math.Inf(1)
	for li := range e.inst.Links {
		if t := e.NextVisibility(li, 0); t < bound {
			bound = t
		}
	}
	if math.IsInf(bound, 1) {
		return 0
	}
	return bound
}

// NextVisibility returns the earliest time >= t0 at which link li is
// unblocked, or +Inf when the link is never visible.
func (e *Engine) NextVisibility(li int, t0 float64) float64 {
	return e.set.Cache(li).Query(t0)
}

// NextCommunication returns the earliest time >= t0 at which link li is
// simultaneously visible and alignable given the bodies' current
// orientations.
//
// The search scans forward from the first visibility in step increments up
// to t0 + t_max, where t_max is the longer of the two endpoints' 180°-turn
// durations plus one orbital period (allowance for missing one visibility
// window while re-aligning). Blocked stretches are skipped in one jump via
// the interval cache rather than sampled through.
func (e *Engine) NextCommunication(li int, t0 float64) Result {
	tVisible := e.NextVisibility(li, t0)
	if math.IsInf(tVisible, 1) {
		return Result{Time: tVisible, Outcome: NeverVisible}
	}

	l := e.inst.Links[li]
	sa := e.src.Orientation(l.A)
	sb := e.src.Orientation(l.B)

	if e.inst.CanAlign(li, sa, sb, tVisible) {
		return Result{Time: tVisible, Outcome: Feasible}
	}

	period := e.inst.Period(li)
	cache := e.set.Cache(li)
	tMax := turnHorizon(e.inst, l) + period

	for t := tVisible; t <= t0+tMax; t += e.step {
		if e.inst.Blocked(li, t) {
			// Jump straight to the next cached visible instant instead of
			// stepping through dead time.
			phase := math.Mod(t, period)
			next, wrapped := cache.NextVisible(phase)
			if wrapped {
				t += next + period - phase
			} else {
				t += next - phase
			}
		}
		if e.inst.CanAlign(li, sa, sb, t) && !e.inst.Blocked(li, t) {
			return Result{Time: t, Outcome: Feasible}
		}
	}

	return Result{Time: math.Inf(1), Outcome: Unalignable}
}

// turnHorizon returns the longer of the two endpoints' 180°-turn durations.
// A non-rotating antenna contributes no slew budget: with both ends fixed
// the geometry repeats after one period and scanning further is pointless,
// so the unbounded π/0 horizon is deliberately avoided.
func turnHorizon(in *instance.Instance, l instance.Link) float64 {
	var horizon float64
	for _, bi := range [2]int{l.A, l.B} {
		if rs := in.Body(bi).RotationSpeed(); rs > 0 {
			if d := math.Pi / rs; d > horizon {
				horizon = d
			}
		}
	}
	return horizon
}
