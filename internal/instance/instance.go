// Package instance owns the body and link collections of a problem instance
// and their on-disk representation.
//
// Links reference bodies by stable 0-based index into the instance's body
// slice, matching the file encoding. An index outside the body slice is a
// broken ownership invariant and panics.
package instance

import (
	"fmt"
	"math"
	"sort"

	"github.com/orblink/orblink/internal/geom"
	"github.com/orblink/orblink/internal/orbit"
)

// Link is a potential line-of-sight communication edge between two bodies.
type Link struct {
	A, B int
}

// Sample is a body's antenna orientation at a point in time, supplied by the
// caller. Dir is the boresight direction; Time is when it was observed.
// The oracle reads samples but never writes them.
type Sample struct {
	Dir  geom.Vec3
	Time float64
}

// Instance is the full problem: central-body parameters, bodies, and links.
type Instance struct {
	Radius float64 // central body radius, km
	Mu     float64 // gravitational parameter, km³/s²
	Bodies []orbit.Satellite
	Links  []Link
}

// Body returns the body at index i.
func (in *Instance) Body(i int) orbit.Satellite {
	return in.Bodies[i]
}

// Blocked reports whether link li's line of sight is occluded by the central
// body at time t.
func (in *Instance) Blocked(li int, t float64) bool {
	l := in.Links[li]
	pa := in.Bodies[l.A].Position(t)
	pb := in.Bodies[l.B].Position(t)
	return geom.SegmentBlocked(pa, pb, in.Radius)
}

// Period returns the orbital period shared by link li's endpoints. Endpoint
// period equality is enforced when links are created (see Read).
func (in *Instance) Period(li int) float64 {
	return in.Bodies[in.Links[li].A].Period()
}

// CanAlign reports whether both endpoint antennas of link li can point at
// each other at time t, given the caller-supplied orientation samples.
//
// An antenna covers directions within its cone half-angle around the sampled
// boresight instantly; any remaining angle must be slewed at the body's
// rotation speed in the time elapsed since the sample was taken.
func (in *Instance) CanAlign(li int, sa, sb Sample, t float64) bool {
	l := in.Links[li]
	pa := in.Bodies[l.A].Position(t)
	pb := in.Bodies[l.B].Position(t)

	return reachable(in.Bodies[l.A], sa, pb.Sub(pa), t) &&
		reachable(in.Bodies[l.B], sb, pa.Sub(pb), t)
}

// reachable reports whether one antenna can cover the required direction by
// time t. A zero boresight counts as a full half turn (geom.Vec3.AngleTo).
func reachable(body orbit.Satellite, s Sample, required geom.Vec3, t float64) bool {
	turn := s.Dir.AngleTo(required) - body.ConeAngle()
	if turn <= 0 {
		return true
	}
	elapsed := t - s.Time
	if elapsed < 0 {
		elapsed = 0
	}
	return turn <= body.RotationSpeed()*elapsed
}

// Clone returns a deep copy. Every link in the copy resolves to a body in
// the copy's own slice; mutating the source afterwards never affects it.
func (in *Instance) Clone() *Instance {
	out := &Instance{
		Radius: in.Radius,
		Mu:     in.Mu,
		Bodies: make([]orbit.Satellite, len(in.Bodies)),
		Links:  make([]Link, len(in.Links)),
	}
	copy(out.Bodies, in.Bodies)
	copy(out.Links, in.Links)
	return out
}

// pruneStep is the coarse sampling step for dead-link detection, in seconds.
const pruneStep = 1.0

// RemoveInvalidLinks drops every link that is occluded at each coarse sample
// across one orbital period, so downstream scheduling never sees links that
// can never carry traffic. Returns the number of links removed.
func (in *Instance) RemoveInvalidLinks() int {
	kept := in.Links[:0]
	removed := 0
	for li := range in.Links {
		visible := false
		for t := 0.0; t < in.Period(li); t += pruneStep {
			if !in.Blocked(li, t) {
				visible = true
				break
			}
		}
		if visible {
			kept = append(kept, in.Links[li])
		} else {
			removed++
		}
	}
	in.Links = kept
	return removed
}

// LineGraph returns the conflict graph over links: entry i lists the link
// indices sharing an endpoint body with link i, sorted, without duplicates
// or self-loops. Two links sharing a body cannot generally be serviced at
// the same time, which is what a scan-cover solver needs to know.
func (in *Instance) LineGraph() [][]int {
	adj := make([][]int, len(in.Links))

	for bi := range in.Bodies {
		// Collect the links incident to this body.
		var incident []int
		for li, l := range in.Links {
			if l.A == bi || l.B == bi {
				incident = append(incident, li)
			}
		}
		for _, li := range incident {
			adj[li] = append(adj[li], incident...)
		}
	}

	for li := range adj {
		sort.Ints(adj[li])
		dedup := adj[li][:0]
		for _, v := range adj[li] {
			if v == li {
				continue
			}
			if len(dedup) > 0 && dedup[len(dedup)-1] == v {
				continue
			}
			dedup = append(dedup, v)
		}
		adj[li] = dedup
	}

	return adj
}

// addLink validates and appends a link. Used by the loader and by callers
// assembling instances programmatically.
func (in *Instance) addLink(a, b int) error {
	if a < 0 || a >= len(in.Bodies) || b < 0 || b >= len(in.Bodies) {
		return fmt.Errorf("body index out of range: %d,%d (have %d bodies)", a, b, len(in.Bodies))
	}
	if a == b {
		return fmt.Errorf("link endpoints must differ: %d", a)
	}
	pa, pb := in.Bodies[a].Period(), in.Bodies[b].Period()
	if math.Abs(pa-pb) > 1e-6*pa {
		return fmt.Errorf("endpoint periods differ: %g vs %g", pa, pb)
	}
	in.Links = append(in.Links, Link{A: a, B: b})
	return nil
}

// AddLink appends a link between bodies a and b, enforcing the same
// validation the loader applies.
func (in *Instance) AddLink(a, b int) error {
	return in.addLink(a, b)
}
