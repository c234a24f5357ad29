package instance

import (
	"bytes"
	"strings"
	"testing"
)

// TestRoundTrip saves an instance and loads it back, checking body count,
// link count, and exact numeric equality of every orbital element.
func TestRoundTrip(t *testing.T) {
	in := testInstance(t)

	var buf bytes.Buffer
	if err := in.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	back, err := Read(&buf, testLogger())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if back.Radius != in.Radius || back.Mu != in.Mu {
		t.Errorf("header mismatch: got (%v,%v), want (%v,%v)", back.Radius, back.Mu, in.Radius, in.Mu)
	}
	if len(back.Bodies) != len(in.Bodies) {
		t.Fatalf("body count = %d, want %d", len(back.Bodies), len(in.Bodies))
	}
	if len(back.Links) != len(in.Links) {
		t.Fatalf("link count = %d, want %d", len(back.Links), len(in.Links))
	}

	for i := range in.Bodies {
		want := in.Bodies[i].Elements()
		got := back.Bodies[i].Elements()
		// ConeAngle is not part of the format; the loader assigns the default.
		want.ConeAngle = DefaultConeAngle
		if got != want {
			t.Errorf("body %d elements = %+v, want %+v", i, got, want)
		}
	}
	for i := range in.Links {
		if back.Links[i] != in.Links[i] {
			t.Errorf("link %d = %+v, want %+v", i, back.Links[i], in.Links[i])
		}
	}
}

// TestReadSkipsMalformedLines verifies the best-effort loader policy: bad
// numeric fields and out-of-range indices drop the line, not the load.
func TestReadSkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		"6371,398600.4418",
		"===END===",
		"0,400,0,0,0,0,0,0.01",
		"1,400,0,0.1,0,0,0,0.01",
		"2,400,zero,0.2,0,0,0,0.01", // malformed eccentricity
		"3,400,0",                   // too few fields
		"===END===",
		"0,1",
		"0,9", // out-of-range body index
		"1,x", // malformed index
		"0,0", // self-link
	}, "\n")

	in, err := Read(strings.NewReader(input), testLogger())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(in.Bodies) != 2 {
		t.Errorf("body count = %d, want 2", len(in.Bodies))
	}
	if len(in.Links) != 1 {
		t.Errorf("link count = %d, want 1", len(in.Links))
	}
	if len(in.Links) == 1 && in.Links[0] != (Link{A: 0, B: 1}) {
		t.Errorf("surviving link = %+v, want {0 1}", in.Links[0])
	}
}

// TestReadEmptySections verifies an instance with no bodies or links loads
// cleanly.
func TestReadEmptySections(t *testing.T) {
	input := "6371,398600.4418\n===END===\n===END===\n"
	in, err := Read(strings.NewReader(input), testLogger())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(in.Bodies) != 0 || len(in.Links) != 0 {
		t.Errorf("expected empty instance, got %d bodies %d links", len(in.Bodies), len(in.Links))
	}
}
