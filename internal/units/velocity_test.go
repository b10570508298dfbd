package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false", u)
		}
	}
	for _, u := range []string{"", "mph", "CMPS"} {
		if IsValid(u) {
			t.Errorf("IsValid(%q) = true", u)
		}
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "mmps, cmps, mps, knots" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}

func TestConvertVelocity(t *testing.T) {
	tests := []struct {
		unit string
		want float64
	}{
		{MMPS, 1000},
		{CMPS, 100},
		{MPS, 1},
		{KNOTS, 1.9438444924},
		{"unknown", 1000},
	}
	for _, tt := range tests {
		got := ConvertVelocity(1000, tt.unit)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ConvertVelocity(1000, %q) = %v, want %v", tt.unit, got, tt.want)
		}
	}
}

func TestFormatVelocity(t *testing.T) {
	tests := []struct {
		mmps float64
		unit string
		want string
	}{
		{-1234, CMPS, "-123.4 cm/s"},
		{2500, MPS, "2.5 m/s"},
		{514.4, KNOTS, "1.0 kn"},
		{7, MMPS, "7.0 mm/s"},
	}
	for _, tt := range tests {
		if got := FormatVelocity(tt.mmps, tt.unit); got != tt.want {
			t.Errorf("FormatVelocity(%v, %q) = %q, want %q", tt.mmps, tt.unit, got, tt.want)
		}
	}
}
