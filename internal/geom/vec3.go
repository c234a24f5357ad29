// Package geom provides the small amount of 3-D vector math the link
// geometry needs, plus the analytic line-of-sight occlusion test against
// the central body.
package geom

import "math"

// Vec3 is a Cartesian vector in the central-body inertial frame (kilometres).
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v multiplied by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Cross returns the cross product v × o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// AngleTo returns the angle between v and o in radians, in [0, π].
// Either vector having zero length yields π (worst case: callers treat an
// unknown direction as requiring a full half turn).
func (v Vec3) AngleTo(o Vec3) float64 {
	nv, no := v.Norm(), o.Norm()
	if nv == 0 || no == 0 {
		return math.Pi
	}
	c := v.Dot(o) / (nv * no)
	// Clamp against floating point drift before acos.
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// SegmentBlocked reports whether the straight segment from a to b intersects
// a sphere of the given radius centred at the origin.
//
// The segment is treated as a ray from a toward b. With d the unit direction
// and p = a the ray origin, the intersection distances solve
// t² + 2(d·p)t + (p·p - r²) = 0.
func SegmentBlocked(a, b Vec3, radius float64) bool {
	dir := b.Sub(a).Normalize()

	s := dir.Dot(a)
	discr := s*s - (a.Dot(a) - radius*radius)

	// Ray misses (or grazes) the sphere.
	if discr <= 0 {
		return false
	}

	sqrtD := math.Sqrt(discr)
	d1 := -s + sqrtD
	d2 := -s - sqrtD

	// Sphere entirely behind a.
	if d1 < 0 && d2 < 0 {
		return false
	}

	// Sphere entirely beyond b.
	dist := a.Sub(b).Norm()
	if d1 >= dist && d2 >= dist {
		return false
	}

	return true
}
