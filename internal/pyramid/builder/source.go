package builder

import (
	"encoding/binary"
	"math"

	"github.com/hipsgo/hips/internal/container"
	"github.com/hipsgo/hips/internal/herr"
	"github.com/hipsgo/hips/internal/wcs"
)

// decodeSource parses a floatImage container holding the source mosaic: an
// arbitrary (non-square) w*h*depth float32 plane stack plus its WCS,
// generalizing tilecodec's square-tile floatImage decoder (4.A) to a source
// image of any aspect ratio.
func decodeSource(data []byte) (sourceWcs *wcs.Wcs, pixels []float32, w, h, depth int, err error) {
	units, err := container.ParseUnits(data)
	if err != nil {
		return nil, nil, 0, 0, 0, err
	}
	if len(units) == 0 {
		return nil, nil, 0, 0, 0, herr.Decode(herr.CodeNotImage, "source container has no units", nil)
	}
	u := units[0]

	w64, ok1 := u.Header.Int64("NAXIS1")
	h64, ok2 := u.Header.Int64("NAXIS2")
	if !ok1 || !ok2 {
		return nil, nil, 0, 0, 0, herr.Decode(herr.CodeNotImage, "source image missing NAXIS1/NAXIS2", nil)
	}
	depth64, ok := u.Header.Int64("NAXIS3")
	if !ok {
		depth64 = 1
	}

	sourceWcs, err = wcs.FromHeader(u.Header)
	if err != nil {
		return nil, nil, 0, 0, 0, err
	}

	n := int(w64) * int(h64) * int(depth64)
	if n == 0 {
		return sourceWcs, nil, int(w64), int(h64), int(depth64), nil
	}
	if len(u.Data) < n*4 {
		return nil, nil, 0, 0, 0, herr.Decode(herr.CodeLengthMismatch, "source pixel data shorter than NAXIS declares", nil)
	}
	px := make([]float32, n)
	for i := range px {
		bits := binary.BigEndian.Uint32(u.Data[i*4:])
		px[i] = math.Float32frombits(bits)
	}
	return sourceWcs, px, int(w64), int(h64), int(depth64), nil
}
