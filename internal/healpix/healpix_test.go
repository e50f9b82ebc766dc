package healpix

import (
	"math"
	"testing"
)

func TestNside(t *testing.T) {
	tests := []struct {
		order int
		want  int64
	}{
		{0, 1},
		{1, 2},
		{3, 8},
		{10, 1024},
	}
	for _, tt := range tests {
		if got := Nside(tt.order); got != tt.want {
			t.Errorf("Nside(%d) = %d, want %d", tt.order, got, tt.want)
		}
	}
}

func TestNpix(t *testing.T) {
	tests := []struct {
		nside int64
		want  int64
	}{
		{1, 12},
		{2, 48},
		{8, 768},
	}
	for _, tt := range tests {
		if got := Npix(tt.nside); got != tt.want {
			t.Errorf("Npix(%d) = %d, want %d", tt.nside, got, tt.want)
		}
	}
}

func TestNestRingRoundTrip(t *testing.T) {
	for order := 0; order <= 6; order++ {
		nside := Nside(order)
		npix := Npix(nside)
		for ipix := int64(0); ipix < npix; ipix++ {
			ring := NestToRing(nside, ipix)
			back := RingToNest(nside, ring)
			if back != ipix {
				t.Fatalf("order %d: nest %d -> ring %d -> nest %d, want %d", order, ipix, ring, back, ipix)
			}
		}
	}
}

func TestNestRingIsBijective(t *testing.T) {
	// Every ring index in [0, npix) should be hit exactly once as ipix
	// ranges over [0, npix).
	for order := 0; order <= 4; order++ {
		nside := Nside(order)
		npix := Npix(nside)
		seen := make([]bool, npix)
		for ipix := int64(0); ipix < npix; ipix++ {
			ring := NestToRing(nside, ipix)
			if ring < 0 || ring >= npix {
				t.Fatalf("order %d: ring index %d out of range for ipix %d", order, ring, ipix)
			}
			if seen[ring] {
				t.Fatalf("order %d: ring index %d produced twice", order, ring)
			}
			seen[ring] = true
		}
	}
}

func TestAngVecRoundTrip(t *testing.T) {
	angles := []struct{ theta, phi float64 }{
		{0.001, 0},
		{math.Pi / 2, 0},
		{math.Pi / 2, math.Pi},
		{math.Pi / 2, 3 * math.Pi / 2},
		{math.Pi - 0.001, 1.2},
	}
	for _, a := range angles {
		x, y, z := AngleToVec(a.theta, a.phi)
		theta2, phi2 := VecToAngle(x, y, z)
		if math.Abs(theta2-a.theta) > 1e-9 {
			t.Errorf("theta round trip: got %v, want %v", theta2, a.theta)
		}
		if math.Abs(phi2-a.phi) > 1e-9 && math.Abs(phi2-a.phi+2*math.Pi) > 1e-9 {
			t.Errorf("phi round trip: got %v, want %v", phi2, a.phi)
		}
	}
}

func TestAngToPixNestWithinRange(t *testing.T) {
	order := 5
	nside := Nside(order)
	npix := Npix(nside)
	for _, theta := range []float64{0.01, 0.5, 1.0, 1.5, 2.0, 3.13} {
		for _, phi := range []float64{0, 1, 3, 5, 6.2} {
			ipix := AngToPixNest(nside, theta, phi)
			if ipix < 0 || ipix >= npix {
				t.Fatalf("AngToPixNest(%v, %v) = %d out of range [0, %d)", theta, phi, ipix, npix)
			}
		}
	}
}

func TestPixToVecCenterMatchesAngToPix(t *testing.T) {
	// The cell center (u=v=0.5) should map back to a point whose
	// AngToPixNest recovers the same pixel.
	order := 4
	nside := Nside(order)
	npix := Npix(nside)
	for ipix := int64(0); ipix < npix; ipix++ {
		x, y, z := PixToVec(nside, ipix, 0.5, 0.5)
		theta, phi := VecToAngle(x, y, z)
		got := AngToPixNest(nside, theta, phi)
		if got != ipix {
			t.Fatalf("cell %d center maps to cell %d", ipix, got)
		}
	}
}

func TestNpixForOrder(t *testing.T) {
	for order := 0; order <= 6; order++ {
		want := Npix(Nside(order))
		if got := NpixForOrder(order); got != want {
			t.Errorf("NpixForOrder(%d) = %d, want %d", order, got, want)
		}
	}
}
