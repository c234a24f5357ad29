// Package orbit models a body on a two-body Keplerian orbit around a central
// mass and evaluates its Cartesian position for arbitrary simulation time.
//
// Units are fixed by contract: lengths in kilometres, angles in radians,
// rotation speed in rad/s, time in seconds, gravitational parameter in
// km³/s². Instance files store these raw values without conversion.
package orbit

import (
	"math"

	"github.com/orblink/orblink/internal/geom"
)

// Elements holds the classical orbital elements of a body plus its antenna
// mechanics. HeightPerigee is measured above the central body surface.
type Elements struct {
	HeightPerigee float64 // km above central body surface
	Eccentricity  float64 // 0 <= e < 1
	TrueAnomaly   float64 // rad, at t = 0
	RAAN          float64 // rad, right ascension of the ascending node
	ArgPeriapsis  float64 // rad
	Inclination   float64 // rad
	RotationSpeed float64 // rad/s, antenna slew rate
	ConeAngle     float64 // rad, antenna cone half-angle
}

// Satellite is an immutable orbiting body. Derived quantities (semi-major
// axis, mean motion, mean anomaly at t=0) are computed once at construction
// so Position stays cheap in the sampling loops.
type Satellite struct {
	el     Elements
	mu     float64
	radius float64

	a  float64 // semi-major axis, km
	n  float64 // mean motion, rad/s
	m0 float64 // mean anomaly at t = 0
}

// NewSatellite builds a body from its elements and the shared central-body
// parameters (gravitational parameter in km³/s², radius in km).
func NewSatellite(el Elements, mu, radius float64) Satellite {
	a := (radius + el.HeightPerigee) / (1 - el.Eccentricity)
	e0 := eccentricFromTrue(el.TrueAnomaly, el.Eccentricity)
	return Satellite{
		el:     el,
		mu:     mu,
		radius: radius,
		a:      a,
		n:      math.Sqrt(mu / (a * a * a)),
		m0:     normalizeAngle(e0 - el.Eccentricity*math.Sin(e0)),
	}
}

// Elements returns the body's orbital elements.
func (s Satellite) Elements() Elements { return s.el }

// RotationSpeed returns the antenna slew rate in rad/s.
func (s Satellite) RotationSpeed() float64 { return s.el.RotationSpeed }

// ConeAngle returns the antenna cone half-angle in radians.
func (s Satellite) ConeAngle() float64 { return s.el.ConeAngle }

// Period returns the orbital period in seconds.
func (s Satellite) Period() float64 {
	return 2 * math.Pi / s.n
}

// Position returns the Cartesian position at absolute time t (seconds).
// Pure and deterministic; periodic with Period(); valid for any t,
// including negative.
func (s Satellite) Position(t float64) geom.Vec3 {
	e := s.el.Eccentricity

	m := normalizeAngle(s.m0 + s.n*t)
	ea := EccentricFromMean(m, e)
	nu := trueFromEccentric(ea, e)

	// Distance from focus and argument of latitude.
	r := s.a * (1 - e*math.Cos(ea))
	u := s.el.ArgPeriapsis + nu

	sinU, cosU := math.Sincos(u)
	sinO, cosO := math.Sincos(s.el.RAAN)
	sinI, cosI := math.Sincos(s.el.Inclination)

	return geom.Vec3{
		X: r * (cosO*cosU - sinO*sinU*cosI),
		Y: r * (sinO*cosU + cosO*sinU*cosI),
		Z: r * (sinU * sinI),
	}
}

// EccentricFromMean solves Kepler's equation M = E - e·sin(E) for E with
// Newton-Raphson iteration.
func EccentricFromMean(mean, e float64) float64 {
	if e == 0 {
		return normalizeAngle(mean)
	}

	m := normalizeAngle(mean)
	ea := keplerGuess(m, e)
	for i := 0; i < 50; i++ {
		f := ea - e*math.Sin(ea) - m
		delta := f / (1 - e*math.Cos(ea))
		ea -= delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}
	return normalizeAngle(ea)
}

// keplerGuess provides the Newton-Raphson starting point. For high
// eccentricities a mean-anomaly start converges poorly.
func keplerGuess(m, e float64) float64 {
	if e < 0.8 {
		return m
	}
	if m < math.Pi {
		return m + e/2
	}
	return m - e/2
}

// trueFromEccentric converts an eccentric anomaly to the true anomaly.
func trueFromEccentric(ea, e float64) float64 {
	if e == 0 {
		return normalizeAngle(ea)
	}
	sinE, cosE := math.Sincos(ea)
	sqrt := math.Sqrt(1 - e*e)
	return normalizeAngle(math.Atan2(sqrt*sinE, cosE-e))
}

// eccentricFromTrue converts a true anomaly to the eccentric anomaly.
func eccentricFromTrue(nu, e float64) float64 {
	if e == 0 {
		return normalizeAngle(nu)
	}
	sinNu, cosNu := math.Sincos(nu)
	sqrt := math.Sqrt(1 - e*e)
	return normalizeAngle(math.Atan2(sqrt*sinNu, cosNu+e))
}

func normalizeAngle(a float64) float64 {
	w := math.Mod(a, 2*math.Pi)
	if w < 0 {
		w += 2 * math.Pi
	}
	return w
}

// Rad converts degrees to radians. Catalog sources (TLEs) publish angles in
// degrees; the instance format stores radians.
func Rad(deg float64) float64 { return deg * (math.Pi / 180) }

// Deg converts radians to degrees.
func Deg(rad float64) float64 { return rad * (180 / math.Pi) }
