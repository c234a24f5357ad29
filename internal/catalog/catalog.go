// Package catalog imports orbiting bodies from NORAD two-line element sets.
// Each TLE is initialized with SGP4, propagated to its own epoch for a state
// vector, and the state vector is converted back to classical elements so
// the rest of the system can treat catalog bodies like any other Keplerian
// body.
package catalog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/orblink/orblink/internal/geom"
	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/orbit"
)

// WGS84 central-body constants used for the element conversion.
const (
	earthMu     = 398600.4418 // km^3/s^2
	earthRadius = 6378.137    // km
)

// Entry is one parsed TLE record.
type Entry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// Options set the antenna parameters catalog bodies are created with; a TLE
// carries no antenna information.
type Options struct {
	RotationSpeed float64 // rad/s
	ConeAngle     float64 // rad
}

// Parse reads 3-line NORAD TLE format from r and returns parsed entries.
// Malformed entries are skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var entries []Entry
	for i := 0; i+2 < len(lines); {
		name := lines[i]
		line1 := lines[i+1]
		line2 := lines[i+2]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			// Try to find the next valid triplet.
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			i++
			continue
		}

		// NORAD ID lives in line1 cols 3-7 (0-indexed: 2..7).
		noradStr := strings.TrimSpace(line1[2:7])
		noradID, err := strconv.Atoi(noradStr)
		if err != nil {
			logger.Warn("skipping TLE entry with invalid NORAD ID", "norad_str", noradStr, "name", name)
			i += 3
			continue
		}

		// Epoch lives in line1 cols 19-32 (0-indexed: 18..32).
		if len(line1) < 32 {
			logger.Warn("skipping TLE entry with short line1", "name", name)
			i += 3
			continue
		}
		epochStr := strings.TrimSpace(line1[18:32])
		epoch, err := parseEpoch(epochStr)
		if err != nil {
			logger.Warn("skipping TLE entry with invalid epoch", "epoch_str", epochStr, "name", name, "error", err)
			i += 3
			continue
		}

		entries = append(entries, Entry{
			NORADID: noradID,
			Name:    strings.TrimSpace(name),
			Epoch:   epoch,
			Line1:   line1,
			Line2:   line2,
		})
		i += 3
	}

	return entries, nil
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

// validateTLELines performs basic format validation on TLE lines.
// This prevents passing garbage to go-satellite which calls log.Fatal on
// parse errors.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// Elements converts a single TLE entry into classical orbital elements. The
// SGP4 model is evaluated at the entry's own epoch so the osculating
// elements describe the orbit at t = 0 of the simulation clock.
func Elements(e Entry, opts Options) (orbit.Elements, error) {
	if err := validateTLELines(e.Line1, e.Line2); err != nil {
		return orbit.Elements{}, fmt.Errorf("invalid TLE for NORAD %d: %w", e.NORADID, err)
	}

	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return orbit.Elements{}, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", e.NORADID, sat.Error, sat.ErrorStr)
	}

	ep := e.Epoch
	pos, vel := satellite.Propagate(sat, ep.Year(), int(ep.Month()), ep.Day(), ep.Hour(), ep.Minute(), ep.Second())

	r := geom.Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}
	v := geom.Vec3{X: vel.X, Y: vel.Y, Z: vel.Z}

	// Propagation failures surface as NaN/Inf or absurd magnitudes.
	mag := r.Norm()
	if math.IsNaN(mag) || math.IsInf(mag, 0) || mag < 6200 || mag > 50000 {
		return orbit.Elements{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: position magnitude %.1f km", e.NORADID, mag)
	}

	el, err := stateToElements(r, v)
	if err != nil {
		return orbit.Elements{}, fmt.Errorf("NORAD %d: %w", e.NORADID, err)
	}
	el.RotationSpeed = opts.RotationSpeed
	el.ConeAngle = opts.ConeAngle
	return el, nil
}

// Import parses all TLE entries from r and appends them to in as bodies.
// Entries that fail SGP4 initialization or element conversion are skipped
// with a warning. Returns the number of bodies added.
func Import(r io.Reader, in *instance.Instance, opts Options, logger *slog.Logger) (int, error) {
	entries, err := Parse(r, logger)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, e := range entries {
		el, err := Elements(e, opts)
		if err != nil {
			logger.Warn("skipping catalog entry", "norad_id", e.NORADID, "name", e.Name, "error", err)
			continue
		}
		in.Bodies = append(in.Bodies, orbit.NewSatellite(el, in.Mu, in.Radius))
		added++
	}
	return added, nil
}

// stateToElements converts an inertial state vector (km, km/s) into
// classical orbital elements. Only elliptical orbits are supported;
// circular and equatorial degeneracies fall back to zero angles.
func stateToElements(r, v geom.Vec3) (orbit.Elements, error) {
	const tiny = 1e-10

	rn := r.Norm()
	h := r.Cross(v)
	hn := h.Norm()
	if hn < tiny {
		return orbit.Elements{}, fmt.Errorf("degenerate state: zero angular momentum")
	}

	// Node vector points at the ascending node.
	node := geom.Vec3{X: -h.Y, Y: h.X}
	nn := node.Norm()

	// Eccentricity vector.
	vn2 := v.Dot(v)
	ev := r.Scale(vn2 - earthMu/rn).Sub(v.Scale(r.Dot(v))).Scale(1 / earthMu)
	ecc := ev.Norm()
	if ecc >= 1 {
		return orbit.Elements{}, fmt.Errorf("non-elliptical orbit: e=%.4f", ecc)
	}

	energy := vn2/2 - earthMu/rn
	a := -earthMu / (2 * energy)

	inc := math.Acos(clamp(h.Z / hn))

	var raan float64
	if nn > tiny {
		raan = math.Acos(clamp(node.X / nn))
		if node.Y < 0 {
			raan = 2*math.Pi - raan
		}
	}

	var argp float64
	if nn > tiny && ecc > tiny {
		argp = math.Acos(clamp(node.Dot(ev) / (nn * ecc)))
		if ev.Z < 0 {
			argp = 2*math.Pi - argp
		}
	}

	var nu float64
	switch {
	case ecc > tiny:
		nu = math.Acos(clamp(ev.Dot(r) / (ecc * rn)))
		if r.Dot(v) < 0 {
			nu = 2*math.Pi - nu
		}
	case nn > tiny:
		// Circular inclined: argument of latitude stands in for nu.
		nu = math.Acos(clamp(node.Dot(r) / (nn * rn)))
		if r.Z < 0 {
			nu = 2*math.Pi - nu
		}
	default:
		// Circular equatorial: true longitude.
		nu = math.Acos(clamp(r.X / rn))
		if r.Y < 0 {
			nu = 2*math.Pi - nu
		}
	}

	return orbit.Elements{
		HeightPerigee: a*(1-ecc) - earthRadius,
		Eccentricity:  ecc,
		TrueAnomaly:   nu,
		RAAN:          raan,
		ArgPeriapsis:  argp,
		Inclination:   inc,
	}, nil
}

func clamp(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
