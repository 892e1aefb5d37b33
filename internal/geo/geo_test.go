package geo

import (
	"math"
	"testing"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	pts := []Coordinate{
		{Lat: 0, Lng: 0},
		{Lat: 5.6037, Lng: -0.1870},
		{Lat: -90, Lng: 180},
	}
	for _, p := range pts {
		d, err := DistanceMeters(p, p)
		if err != nil {
			t.Fatalf("DistanceMeters(%v, %v): %v", p, p, err)
		}
		if d != 0 {
			t.Errorf("DistanceMeters(%v, %v) = %v, want 0", p, p, d)
		}
	}
}

func TestDistanceSymmetry(t *testing.T) {
	a := Coordinate{Lat: 5.6037, Lng: -0.1870}
	b := Coordinate{Lat: 51.5074, Lng: -0.1278}
	ab, err := DistanceMeters(a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := DistanceMeters(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Errorf("distance not symmetric: %v vs %v", ab, ba)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of longitude near the equator is roughly 111 km; a 0.1
	// degree shift at Accra's latitude should land near 11 km.
	a := Coordinate{Lat: 5.6037, Lng: -0.1870}
	b := Coordinate{Lat: 5.6037, Lng: -0.2870}
	d, err := DistanceMeters(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if d < 10500 || d > 11500 {
		t.Errorf("distance = %v, want ~11000", d)
	}
}

func TestDistanceAntipodal(t *testing.T) {
	a := Coordinate{Lat: 0, Lng: 0}
	b := Coordinate{Lat: 0, Lng: 180}
	d, err := DistanceMeters(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(d) {
		t.Fatal("antipodal distance is NaN")
	}
	half := math.Pi * earthRadiusM
	if math.Abs(d-half) > 1 {
		t.Errorf("antipodal distance = %v, want %v", d, half)
	}
}

func TestValidateRejectsBadCoordinates(t *testing.T) {
	bad := []Coordinate{
		{Lat: math.NaN(), Lng: 0},
		{Lat: 0, Lng: math.NaN()},
		{Lat: 90.0001, Lng: 0},
		{Lat: -91, Lng: 0},
		{Lat: 0, Lng: 180.5},
		{Lat: 0, Lng: -181},
	}
	for _, c := range bad {
		if err := Validate(c); err == nil {
			t.Errorf("Validate(%v) accepted an invalid coordinate", c)
		}
		if _, err := DistanceMeters(c, Coordinate{}); err == nil {
			t.Errorf("DistanceMeters accepted invalid coordinate %v", c)
		}
	}
}

func TestWithinRadius(t *testing.T) {
	anchor := Coordinate{Lat: 5.6037, Lng: -0.1870}
	tests := []struct {
		name   string
		point  Coordinate
		radius float64
		want   bool
	}{
		{"same point", anchor, 10000, true},
		{"11km away outside 10km", Coordinate{Lat: 5.6037, Lng: -0.2870}, 10000, false},
		{"11km away inside 20km", Coordinate{Lat: 5.6037, Lng: -0.2870}, 20000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _, err := WithinRadius(anchor, tt.point, tt.radius)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.want {
				t.Errorf("WithinRadius = %v, want %v", ok, tt.want)
			}
		})
	}
}
