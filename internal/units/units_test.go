package units

import (
	"math"
	"testing"
)

func TestIsValidQ(t *testing.T) {
	testCases := []struct {
		unit  string
		valid bool
	}{
		{"1/A", true},
		{"1/nm", true},
		{"", false},
		{"1/m", false},
		{"A", false},
	}

	for _, tc := range testCases {
		if got := IsValidQ(tc.unit); got != tc.valid {
			t.Errorf("IsValidQ(%q) = %v, want %v", tc.unit, got, tc.valid)
		}
	}
}

func TestConvertQ(t *testing.T) {
	testCases := []struct {
		name     string
		q        float64
		units    string
		expected float64
	}{
		{"angstrom_passthrough", 0.1, InvAngstrom, 0.1},
		{"nanometer_to_angstrom", 1.0, InvNanometer, 0.1},
		{"unknown_unit_passthrough", 0.25, "1/m", 0.25},
		{"zero", 0, InvNanometer, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ConvertQ(tc.q, tc.units)
			if math.Abs(got-tc.expected) > 1e-12 {
				t.Errorf("ConvertQ(%v, %q) = %v, want %v", tc.q, tc.units, got, tc.expected)
			}
		})
	}
}

func TestQFromAngleRoundTrip(t *testing.T) {
	lambda := 4.75 // Angstroms
	for _, theta := range []float64{0.2, 0.5, 1.0, 3.0} {
		q := QFromAngle(lambda, theta)
		back := AngleFromQ(q, lambda)
		if math.Abs(back-theta) > 1e-9 {
			t.Errorf("round trip theta=%v: got %v", theta, back)
		}
	}
}

func TestQFromAngleKnownValue(t *testing.T) {
	// Q = 4 pi sin(theta) / lambda; theta=90 gives 4 pi / lambda
	q := QFromAngle(2.0, 90)
	want := 4 * math.Pi / 2.0
	if math.Abs(q-want) > 1e-12 {
		t.Errorf("QFromAngle(2, 90) = %v, want %v", q, want)
	}
}
