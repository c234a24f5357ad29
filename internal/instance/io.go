package instance

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/orblink/orblink/internal/orbit"
)

// The instance file has three comma-separated sections, each terminated by a
// literal ===END=== line:
//
//	radius_central_mass,gravitational_parameter
//	===END===
//	<index>,height_perigee,eccentricity,true_anomaly,raan,argument_periapsis,inclination,rotation_speed
//	...
//	===END===
//	<body_index_a>,<body_index_b>
//	...
//
// Values are raw: kilometres, radians, rad/s. The leading per-body index is
// written for readability but ignored on read; order implies identity.
const sectionEnd = "===END==="

// Section reader modes.
const (
	readHeader = iota
	readBodies
	readLinks
)

// Read parses an instance from r. Malformed lines and out-of-range link
// indices are skipped with a diagnostic; the load is best-effort and never
// aborts mid-file. Callers needing strict validation must re-check the
// result themselves.
func Read(r io.Reader, logger *slog.Logger) (*Instance, error) {
	in := &Instance{}
	mode := readHeader
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == sectionEnd {
			mode++
			continue
		}

		fields := strings.Split(line, ",")
		switch mode {
		case readHeader:
			if err := in.readHeader(fields); err != nil {
				logger.Warn("skipping malformed header line", "line", lineNo, "error", err)
			}
		case readBodies:
			if err := in.readBody(fields); err != nil {
				logger.Warn("skipping malformed body line", "line", lineNo, "error", err)
			}
		case readLinks:
			if err := in.readLink(fields); err != nil {
				logger.Warn("skipping malformed link line", "line", lineNo, "error", err)
			}
		default:
			logger.Warn("ignoring line after final section", "line", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading instance: %w", err)
	}

	return in, nil
}

// Load reads an instance from the file at path.
func Load(path string, logger *slog.Logger) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening instance file: %w", err)
	}
	defer f.Close()
	return Read(f, logger)
}

func (in *Instance) readHeader(fields []string) error {
	vals, err := parseFloats(fields, 2)
	if err != nil {
		return err
	}
	in.Radius = vals[0]
	in.Mu = vals[1]
	return nil
}

func (in *Instance) readBody(fields []string) error {
	// Leading index field included; ignored on read.
	vals, err := parseFloats(fields, 8)
	if err != nil {
		return err
	}
	in.Bodies = append(in.Bodies, newBody(elementsFromFields(vals), in.Mu, in.Radius))
	return nil
}

func (in *Instance) readLink(fields []string) error {
	if len(fields) != 2 {
		return fmt.Errorf("expected 2 fields, got %d", len(fields))
	}
	a, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return fmt.Errorf("invalid body index %q: %w", fields[0], err)
	}
	b, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return fmt.Errorf("invalid body index %q: %w", fields[1], err)
	}
	return in.addLink(a, b)
}

func parseFloats(fields []string, want int) ([]float64, error) {
	if len(fields) != want {
		return nil, fmt.Errorf("expected %d fields, got %d", want, len(fields))
	}
	vals := make([]float64, want)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d (%q): %w", i, f, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// Write serializes the instance to w, re-deriving indices from in-memory
// order. Floats use the shortest representation that round-trips exactly,
// so a save/load cycle reproduces every numeric field.
func (in *Instance) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "%s,%s\n", ftoa(in.Radius), ftoa(in.Mu))
	fmt.Fprintln(bw, sectionEnd)

	for i, b := range in.Bodies {
		el := b.Elements()
		fmt.Fprintf(bw, "%d,%s,%s,%s,%s,%s,%s,%s\n", i,
			ftoa(el.HeightPerigee), ftoa(el.Eccentricity), ftoa(el.TrueAnomaly),
			ftoa(el.RAAN), ftoa(el.ArgPeriapsis), ftoa(el.Inclination),
			ftoa(el.RotationSpeed))
	}
	fmt.Fprintln(bw, sectionEnd)

	for _, l := range in.Links {
		fmt.Fprintf(bw, "%d,%d\n", l.A, l.B)
	}

	return bw.Flush()
}

// Save writes the instance to the file at path.
func (in *Instance) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating instance file: %w", err)
	}
	if err := in.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// DefaultConeAngle is the antenna cone half-angle assigned to loaded bodies.
// The file format carries no cone field; importers and programmatic builders
// may override per body.
const DefaultConeAngle = 5 * math.Pi / 180

func elementsFromFields(vals []float64) orbit.Elements {
	// vals[0] is the index field, ignored.
	return orbit.Elements{
		HeightPerigee: vals[1],
		Eccentricity:  vals[2],
		TrueAnomaly:   vals[3],
		RAAN:          vals[4],
		ArgPeriapsis:  vals[5],
		Inclination:   vals[6],
		RotationSpeed: vals[7],
		ConeAngle:     DefaultConeAngle,
	}
}

func newBody(el orbit.Elements, mu, radius float64) orbit.Satellite {
	return orbit.NewSatellite(el, mu, radius)
}
