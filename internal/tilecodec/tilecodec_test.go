package tilecodec

import (
	"math"
	"testing"

	"github.com/hipsgo/hips/internal/hipstypes"
)

func makeTile(width int, fill func(i int) float32) *hipstypes.Tile {
	px := make([]float32, width*width)
	for i := range px {
		px[i] = fill(i)
	}
	return &hipstypes.Tile{Width: width, Depth: 1, Pixels: px}
}

func TestFloatImageRoundTripBitExact(t *testing.T) {
	tile := makeTile(8, func(i int) float32 { return float32(i) * 1.5 })
	key := hipstypes.TileKey{Order: 2, Ipix: 3, Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatFloatImage}

	data, err := Encode(key, tile)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(key, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Width != tile.Width || got.Depth != tile.Depth {
		t.Fatalf("geometry mismatch: got %dx%dx%d, want %dx%dx%d", got.Width, got.Width, got.Depth, tile.Width, tile.Width, tile.Depth)
	}
	for i := range tile.Pixels {
		if got.Pixels[i] != tile.Pixels[i] {
			t.Errorf("pixel %d: got %v, want %v", i, got.Pixels[i], tile.Pixels[i])
		}
	}
}

func TestFloatImageCubeRoundTrip(t *testing.T) {
	width, depth := 4, 3
	px := make([]float32, width*width*depth)
	for i := range px {
		px[i] = float32(i)
	}
	tile := &hipstypes.Tile{Width: width, Depth: depth, Pixels: px}
	key := hipstypes.TileKey{
		Order: 1, Ipix: 0, HasSpectral: true, SpectralOrder: 1, SpectralIndex: 2,
		Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatFloatImage,
	}
	data, err := Encode(key, tile)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(key, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Depth != depth {
		t.Fatalf("Depth = %d, want %d", got.Depth, depth)
	}
	for i := range px {
		if got.Pixels[i] != px[i] {
			t.Errorf("pixel %d: got %v, want %v", i, got.Pixels[i], px[i])
		}
	}
}

func TestEncodeLengthMismatch(t *testing.T) {
	tile := &hipstypes.Tile{Width: 4, Depth: 1, Pixels: make([]float32, 10)}
	key := hipstypes.TileKey{Order: 0, Ipix: 0, Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatFloatImage}
	if _, err := Encode(key, tile); err == nil {
		t.Fatal("expected length-mismatch error")
	}
}

func TestBytePngRoundTripWithinQuantization(t *testing.T) {
	tile := makeTile(8, func(i int) float32 { return float32(i % 16) })
	key := hipstypes.TileKey{Order: 0, Ipix: 0, Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatBytePng}

	data, err := Encode(key, tile)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(key, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	lo, hi := scaleRange(tile.Plane(0))
	for i, v := range tile.Pixels {
		want := float64(scaleByte(v, lo, hi))
		if math.Abs(float64(got.Pixels[i])-want) > 1e-9 {
			t.Errorf("pixel %d: got %v, want %v", i, got.Pixels[i], want)
		}
	}
}

func TestBytePngConstantPlaneAvoidsDivideByZero(t *testing.T) {
	tile := makeTile(4, func(i int) float32 { return 7 })
	key := hipstypes.TileKey{Order: 0, Ipix: 0, Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatBytePng}
	data, err := Encode(key, tile)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(key, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, v := range got.Pixels {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("got non-finite pixel %v", v)
		}
	}
}

func TestByteJpegProducesGrayscaleLuminance(t *testing.T) {
	tile := makeTile(8, func(i int) float32 { return float32(i % 16) })
	key := hipstypes.TileKey{Order: 0, Ipix: 0, Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatByteJpeg}
	data, err := Encode(key, tile)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(key, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Width != tile.Width || got.Depth != 1 {
		t.Fatalf("geometry mismatch: got %dx%dx%d", got.Width, got.Width, got.Depth)
	}
}

func TestNonFiniteSamplesMapToZero(t *testing.T) {
	nan := float32(math.NaN())
	tile := makeTile(4, func(i int) float32 {
		if i == 0 {
			return nan
		}
		return float32(i)
	})
	lo, hi := scaleRange(tile.Plane(0))
	if scaleByte(nan, lo, hi) != 0 {
		t.Error("non-finite sample should scale to 0")
	}
}
