// Package wcs implements the linear world<->pixel coordinate engine (4.B):
// building a Wcs from keyword records, and synthesizing per-tile headers
// from HEALPix geometry. Matrix inversion for world->pixel uses gonum/mat,
// the same library the retrieval pack's observerly/skysolve manifest pulls
// in for its own coordinate math.
package wcs

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/hipsgo/hips/internal/container"
	"github.com/hipsgo/hips/internal/healpix"
	"github.com/hipsgo/hips/internal/herr"
	"github.com/hipsgo/hips/internal/hipstypes"
)

// Wcs is a linear world<->pixel mapping over two world axes.
type Wcs struct {
	Crpix1, Crpix2 float64
	Crval1, Crval2 float64
	CD             [2][2]float64
	Ctype1, Ctype2 string
	Frame          hipstypes.Frame
}

// FromHeader builds a Wcs from a container.Header's keyword records,
// synthesizing the CD matrix from CDELT/CROTA2 when no CD coefficient is
// present and finite.
func FromHeader(h container.Header) (*Wcs, error) {
	crpix1, ok1 := h.Float64("CRPIX1")
	crpix2, ok2 := h.Float64("CRPIX2")
	crval1, ok3 := h.Float64("CRVAL1")
	crval2, ok4 := h.Float64("CRVAL2")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, herr.Wcs(herr.CodeMissingAxisKeyword, "missing CRPIX1/CRPIX2/CRVAL1/CRVAL2", nil)
	}

	ctype1, _ := h.String("CTYPE1")
	ctype2, _ := h.String("CTYPE2")

	var cd [2][2]float64
	cd11, o11 := h.Float64("CD1_1")
	cd12, o12 := h.Float64("CD1_2")
	cd21, o21 := h.Float64("CD2_1")
	cd22, o22 := h.Float64("CD2_2")

	anyFinite := (o11 && isFinite(cd11)) || (o12 && isFinite(cd12)) ||
		(o21 && isFinite(cd21)) || (o22 && isFinite(cd22))

	if anyFinite {
		cd = [2][2]float64{{cd11, cd12}, {cd21, cd22}}
	} else {
		cdelt1, _ := h.Float64("CDELT1")
		cdelt2, _ := h.Float64("CDELT2")
		crota2, _ := h.Float64("CROTA2")
		sinT, cosT := math.Sincos(crota2 * math.Pi / 180)
		cd = [2][2]float64{
			{cdelt1 * cosT, -cdelt2 * sinT},
			{cdelt1 * sinT, cdelt2 * cosT},
		}
	}

	w := &Wcs{
		Crpix1: crpix1, Crpix2: crpix2,
		Crval1: crval1, Crval2: crval2,
		CD:     cd,
		Ctype1: ctype1, Ctype2: ctype2,
		Frame: inferFrame(ctype1, ctype2),
	}
	if err := w.checkSingular(); err != nil {
		return nil, err
	}
	return w, nil
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func inferFrame(ctype1, ctype2 string) hipstypes.Frame {
	c := strings.ToUpper(ctype1 + ctype2)
	switch {
	case strings.HasPrefix(strings.ToUpper(ctype1), "GLON") || strings.Contains(c, "GLON"):
		return hipstypes.FrameGalactic
	case strings.HasPrefix(strings.ToUpper(ctype1), "ELON") || strings.Contains(c, "ELON"):
		return hipstypes.FrameEcliptic
	default:
		return hipstypes.FrameEquatorial
	}
}

func (w *Wcs) det() float64 {
	return w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
}

func (w *Wcs) checkSingular() error {
	if math.Abs(w.det()) < 1e-16 {
		return herr.Wcs(herr.CodeSingularTransform, "transform matrix is singular", nil)
	}
	return nil
}

// PixelToWorld maps a 0-based pixel position to (lon, lat) in degrees.
func (w *Wcs) PixelToWorld(x, y float64) (lon, lat float64) {
	dx := x + 1 - w.Crpix1
	dy := y + 1 - w.Crpix2
	wx := w.CD[0][0]*dx + w.CD[0][1]*dy
	wy := w.CD[1][0]*dx + w.CD[1][1]*dy

	lon = math.Mod(w.Crval1+wx, 360)
	if lon < 0 {
		lon += 360
	}
	lat = math.Max(-90, math.Min(90, w.Crval2+wy))
	return
}

// WorldToPixel maps (lon, lat) in degrees to a 0-based pixel position,
// unwrapping longitude by ±180° around crval1 to pick the nearest
// representative before inverting the transform.
func (w *Wcs) WorldToPixel(lon, lat float64) (x, y float64, err error) {
	if err := w.checkSingular(); err != nil {
		return 0, 0, err
	}

	delta := math.Mod(lon-w.Crval1, 360)
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	wx := delta
	wy := lat - w.Crval2

	a := mat.NewDense(2, 2, []float64{
		w.CD[0][0], w.CD[0][1],
		w.CD[1][0], w.CD[1][1],
	})
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return 0, 0, herr.Wcs(herr.CodeSingularTransform, "transform matrix is singular", err)
	}

	dx := inv.At(0, 0)*wx + inv.At(0, 1)*wy
	dy := inv.At(1, 0)*wx + inv.At(1, 1)*wy

	x = w.Crpix1 - 1 + dx
	y = w.Crpix2 - 1 + dy
	return x, y, nil
}

// axisTokens returns the CTYPE1/CTYPE2 pair conventionally used for a
// frame's tangent-plane projection.
func axisTokens(frame hipstypes.Frame) (string, string) {
	switch frame {
	case hipstypes.FrameGalactic:
		return "GLON-TAN", "GLAT-TAN"
	case hipstypes.FrameEcliptic:
		return "ELON-TAN", "ELAT-TAN"
	default:
		return "RA---TAN", "DEC--TAN"
	}
}

// TileWcs synthesizes the Wcs for a tile: centre sky position from HEALPix
// geometry, CRPIX at the tile centre, a CD matrix for a uniform pixel scale
// of 45deg/(w*nside) with longitude flipped to the sky-standard orientation
// and no rotation.
func TileWcs(key hipstypes.TileKey, w int) *Wcs {
	nside := healpix.Nside(key.Order)
	x, y, z := healpix.PixToVec(nside, key.Ipix, 0.5, 0.5)
	theta, phi := healpix.VecToAngle(x, y, z)

	lon := phi * 180 / math.Pi
	lat := 90 - theta*180/math.Pi

	scale := 45.0 / (float64(w) * float64(nside))
	ctype1, ctype2 := axisTokens(key.Frame)

	return &Wcs{
		Crpix1: float64(w)/2 + 0.5,
		Crpix2: float64(w)/2 + 0.5,
		Crval1: lon,
		Crval2: lat,
		CD:     [2][2]float64{{-scale, 0}, {0, scale}},
		Ctype1: ctype1,
		Ctype2: ctype2,
		Frame:  key.Frame,
	}
}

// TileHeaderRecords returns the WCS keyword records for a synthesized tile
// header (4.B); callers append the NAXIS/ORDER/NPIX/NSIDE records that
// belong to the enclosing container unit.
func TileHeaderRecords(key hipstypes.TileKey, w int) []container.Record {
	tw := TileWcs(key, w)
	return []container.Record{
		{Keyword: "CTYPE1", Value: tw.Ctype1},
		{Keyword: "CTYPE2", Value: tw.Ctype2},
		{Keyword: "CRPIX1", Value: tw.Crpix1},
		{Keyword: "CRPIX2", Value: tw.Crpix2},
		{Keyword: "CRVAL1", Value: tw.Crval1},
		{Keyword: "CRVAL2", Value: tw.Crval2},
		{Keyword: "CD1_1", Value: tw.CD[0][0]},
		{Keyword: "CD1_2", Value: tw.CD[0][1]},
		{Keyword: "CD2_1", Value: tw.CD[1][0]},
		{Keyword: "CD2_2", Value: tw.CD[1][1]},
	}
}
