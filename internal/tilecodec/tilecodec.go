// Package tilecodec implements the three on-disk tile encodings (4.D):
// floatImage (the image container, 32-bit big-endian floats), bytePng
// (single-channel 8-bit lossy), and byteJpeg (4-channel lossy with
// luminance decode). All three round-trip through the canonical float
// Tile. PNG/JPEG codecs follow the teacher's internal/encode package
// (image/png, image/jpeg, bytes.Buffer encode-to-buffer style).
package tilecodec

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/hipsgo/hips/internal/container"
	"github.com/hipsgo/hips/internal/herr"
	"github.com/hipsgo/hips/internal/hipstypes"
	"github.com/hipsgo/hips/internal/wcs"
)

// JPEGQuality is the quality passed to image/jpeg for byteJpeg encoding.
const JPEGQuality = 90

// Encode serializes a tile in the format named by key.Format.
func Encode(key hipstypes.TileKey, tile *hipstypes.Tile) ([]byte, error) {
	if len(tile.Pixels) != tile.Width*tile.Width*tile.Depth {
		return nil, herr.Encode(herr.CodeLengthMismatch, "pixel buffer length does not match width*width*depth", nil)
	}
	switch key.Format {
	case hipstypes.FormatFloatImage:
		return encodeFloatImage(key, tile)
	case hipstypes.FormatBytePng:
		return encodeBytePng(tile)
	case hipstypes.FormatByteJpeg:
		return encodeByteJpeg(tile)
	default:
		return nil, herr.Encode(herr.CodeUnsupportedFormat, string(key.Format), nil)
	}
}

// Decode parses a tile in the format named by key.Format back to a Tile.
func Decode(key hipstypes.TileKey, data []byte) (*hipstypes.Tile, error) {
	switch key.Format {
	case hipstypes.FormatFloatImage:
		return decodeFloatImage(data)
	case hipstypes.FormatBytePng:
		return decodeBytePng(data)
	case hipstypes.FormatByteJpeg:
		return decodeByteJpeg(data)
	default:
		return nil, herr.Decode(herr.CodeUnsupportedFormat, string(key.Format), nil)
	}
}

// --- floatImage ---

func encodeFloatImage(key hipstypes.TileKey, tile *hipstypes.Tile) ([]byte, error) {
	var h container.Header
	h.Set("SIMPLE", true, "")
	bitpix := int64(-32)
	h.Set("BITPIX", bitpix, "")
	naxis := int64(2)
	if tile.Depth > 1 {
		naxis = 3
	}
	h.Set("NAXIS", naxis, "")
	h.Set("NAXIS1", int64(tile.Width), "")
	h.Set("NAXIS2", int64(tile.Width), "")
	if tile.Depth > 1 {
		h.Set("NAXIS3", int64(tile.Depth), "")
	}
	h.Set("EXTEND", true, "")

	for _, rec := range wcs.TileHeaderRecords(key, tile.Width) {
		h.Set(rec.Keyword, rec.Value, rec.Comment)
	}

	nside := int64(1) << uint(key.Order)
	h.Set("ORDER", int64(key.Order), "")
	h.Set("NPIX", key.Ipix, "")
	h.Set("NSIDE", nside, "")
	h.Set("ORDERING", "NESTED", "")
	if key.HasSpectral {
		h.Set("FORDER", int64(key.SpectralOrder), "")
		h.Set("FPIX", int64(key.SpectralIndex), "")
	}

	data := make([]byte, len(tile.Pixels)*4)
	for i, v := range tile.Pixels {
		binary.BigEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	return container.WriteUnits([]container.Unit{{Header: h, Data: data}})
}

func decodeFloatImage(data []byte) (*hipstypes.Tile, error) {
	units, err := container.ParseUnits(data)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, herr.Decode(herr.CodeNotImage, "container has no units", nil)
	}
	u := units[0]
	if xt, ok := u.Header.String("XTENSION"); ok && xt != "IMAGE" {
		return nil, herr.Decode(herr.CodeNotImage, "unit is not an image extension", nil)
	}

	w, _ := u.Header.Int64("NAXIS1")
	h2, _ := u.Header.Int64("NAXIS2")
	depth, ok := u.Header.Int64("NAXIS3")
	if !ok {
		depth = 1
	}
	if w == 0 || h2 == 0 || w != h2 {
		return nil, herr.Decode(herr.CodeNotImage, "tile must be square", nil)
	}

	n := int(w) * int(w) * int(depth)
	if len(u.Data) < n*4 {
		return nil, herr.Decode(herr.CodeLengthMismatch, "pixel data shorter than NAXIS declares", nil)
	}

	pixels := make([]float32, n)
	for i := range pixels {
		bits := binary.BigEndian.Uint32(u.Data[i*4:])
		pixels[i] = math.Float32frombits(bits)
	}
	return &hipstypes.Tile{Width: int(w), Depth: int(depth), Pixels: pixels}, nil
}

// --- bytePng ---

func scaleRange(plane []float32) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range plane {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
	}
	if math.IsInf(lo, 1) {
		// No finite samples at all.
		return 0, 1
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

func scaleByte(v float32, lo, hi float64) byte {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	t := (f - lo) / (hi - lo) * 255
	if t < 0 {
		t = 0
	}
	if t > 255 {
		t = 255
	}
	return byte(t + 0.5)
}

func encodeBytePng(tile *hipstypes.Tile) ([]byte, error) {
	plane := tile.Plane(0)
	lo, hi := scaleRange(plane)

	img := image.NewGray(image.Rect(0, 0, tile.Width, tile.Width))
	for y := 0; y < tile.Width; y++ {
		for x := 0; x < tile.Width; x++ {
			img.SetGray(x, y, color.Gray{Y: scaleByte(plane[y*tile.Width+x], lo, hi)})
		}
	}

	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, herr.Encode(herr.CodeUnsupportedFormat, "png encode failed", err)
	}
	return buf.Bytes(), nil
}

func decodeBytePng(data []byte) (*hipstypes.Tile, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, herr.Decode(herr.CodeNotImage, "png decode failed", err)
	}
	b := img.Bounds()
	w := b.Dx()
	if w != b.Dy() {
		return nil, herr.Decode(herr.CodeNotImage, "tile must be square", nil)
	}
	pixels := make([]float32, w*w)
	gray := toGray(img)
	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			pixels[y*w+x] = float32(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
		}
	}
	return &hipstypes.Tile{Width: w, Depth: 1, Pixels: pixels}, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x, y, img.At(x, y))
		}
	}
	return g
}

// --- byteJpeg ---

func encodeByteJpeg(tile *hipstypes.Tile) ([]byte, error) {
	plane := tile.Plane(0)
	lo, hi := scaleRange(plane)

	img := image.NewNRGBA(image.Rect(0, 0, tile.Width, tile.Width))
	for y := 0; y < tile.Width; y++ {
		for x := 0; x < tile.Width; x++ {
			v := scaleByte(plane[y*tile.Width+x], lo, hi)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, herr.Encode(herr.CodeUnsupportedFormat, "jpeg encode failed", err)
	}
	return buf.Bytes(), nil
}

func decodeByteJpeg(data []byte) (*hipstypes.Tile, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, herr.Decode(herr.CodeNotImage, "jpeg decode failed", err)
	}
	b := img.Bounds()
	w := b.Dx()
	if w != b.Dy() {
		return nil, herr.Decode(herr.CodeNotImage, "tile must be square", nil)
	}
	pixels := make([]float32, w*w)
	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// RGBA() returns 16-bit-scaled components; reduce to 8-bit
			// before applying the luminance weights.
			rf := float64(r >> 8)
			gf := float64(g >> 8)
			bf := float64(bl >> 8)
			pixels[y*w+x] = float32(0.299*rf + 0.587*gf + 0.114*bf)
		}
	}
	return &hipstypes.Tile{Width: w, Depth: 1, Pixels: pixels}, nil
}
