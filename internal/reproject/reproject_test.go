package reproject

import (
	"math"
	"testing"

	"github.com/hipsgo/hips/internal/hipstypes"
)

func TestSampleNearestInBounds(t *testing.T) {
	w, h := 4, 4
	plane := make([]float32, w*h)
	for i := range plane {
		plane[i] = float32(i)
	}
	tests := []struct {
		x, y float64
		want float32
	}{
		{0, 0, 0},
		{3, 0, 3},
		{1.4, 2.4, plane[2*w+1]},
	}
	for _, tt := range tests {
		got := Sample(plane, w, h, tt.x, tt.y, Nearest, -1)
		if got != tt.want {
			t.Errorf("Sample(%v, %v) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestSampleNearestOutOfBoundsReturnsBlank(t *testing.T) {
	plane := make([]float32, 4)
	got := Sample(plane, 2, 2, 5, 5, Nearest, -99)
	if got != -99 {
		t.Errorf("Sample out of bounds = %v, want blank -99", got)
	}
}

func TestSampleBilinearAllBlankReturnsBlank(t *testing.T) {
	nan := float32(math.NaN())
	plane := []float32{nan, nan, nan, nan}
	got := Sample(plane, 2, 2, 0.5, 0.5, Bilinear, -7)
	if got != -7 {
		t.Errorf("Sample bilinear all-blank = %v, want -7", got)
	}
}

func TestSampleBilinearOnConstantPlane(t *testing.T) {
	plane := []float32{5, 5, 5, 5}
	got := Sample(plane, 2, 2, 0.5, 0.5, Bilinear, -1)
	if math.Abs(float64(got)-5) > 1e-6 {
		t.Errorf("Sample bilinear constant = %v, want 5", got)
	}
}

func TestSampleBicubicFallsBackToBilinearNearEdge(t *testing.T) {
	plane := make([]float32, 4*4)
	for i := range plane {
		plane[i] = float32(i)
	}
	// Near the edge, the 4x4 bicubic neighbourhood runs out of bounds and
	// must fall back to bilinear rather than panic or return blank.
	got := Sample(plane, 4, 4, 0.5, 0.5, Bicubic, -1)
	want := Sample(plane, 4, 4, 0.5, 0.5, Bilinear, -1)
	if got != want {
		t.Errorf("bicubic edge fallback = %v, want bilinear result %v", got, want)
	}
}

func TestSampleBicubicInterior(t *testing.T) {
	w := 8
	plane := make([]float32, w*w)
	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			plane[y*w+x] = float32(2*x + 3*y) // a plane exactly reproduced by cubic interpolation
		}
	}
	got := Sample(plane, w, w, 3.5, 3.5, Bicubic, -1)
	want := float32(2*3.5 + 3*3.5)
	if math.Abs(float64(got-want)) > 1e-3 {
		t.Errorf("bicubic on linear ramp = %v, want %v", got, want)
	}
}

func TestDownsampleMean(t *testing.T) {
	plane := []float32{1, 2, 3, 4}
	out, outW := Downsample(plane, 2, true)
	if outW != 1 {
		t.Fatalf("outW = %d, want 1", outW)
	}
	if out[0] != 2.5 {
		t.Errorf("mean downsample = %v, want 2.5", out[0])
	}
}

func TestDownsampleNearestTakesTopLeft(t *testing.T) {
	plane := []float32{1, 2, 3, 4}
	out, _ := Downsample(plane, 2, false)
	if out[0] != 1 {
		t.Errorf("nearest downsample = %v, want 1", out[0])
	}
}

func TestDownsampleMeanSkipsNonFinite(t *testing.T) {
	nan := float32(math.NaN())
	plane := []float32{nan, 2, 4, nan}
	out, _ := Downsample(plane, 2, true)
	if out[0] != 3 {
		t.Errorf("mean over finite subset = %v, want 3", out[0])
	}
}

func TestDownsampleEmptyNeighborhoodIsNonFinite(t *testing.T) {
	nan := float32(math.NaN())
	plane := []float32{nan, nan, nan, nan}
	out, _ := Downsample(plane, 2, true)
	if !math.IsNaN(float64(out[0])) {
		t.Errorf("expected non-finite output, got %v", out[0])
	}
}

func TestHasFiniteSample(t *testing.T) {
	allBlank := hipstypes.NewTile(2, 1)
	if HasFiniteSample(allBlank) {
		t.Error("freshly allocated tile should have no finite samples")
	}
	allBlank.Set(0, 0, 0, 1.0)
	if !HasFiniteSample(allBlank) {
		t.Error("tile with one finite sample should report true")
	}
}
