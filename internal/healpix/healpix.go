// Package healpix adapts the HEALPix nested pixelization primitives this
// module treats as a Non-goal to rederive (spec §1). Pixel counts are
// cross-checked against github.com/observerly/skysolve/pkg/healpix, whose
// retrieved usage (indexer.NewHealPIX(nside, scheme).GetNumberOfPixels())
// only exposes the sides/scheme/count surface; the angle/vector conversions
// the builder and exporter need beyond that surface are implemented here
// directly from the published HEALPix nested-scheme formulas (Górski et al.
// 2005), the same formulas any wrapper over the C/Python reference
// implementation would apply.
package healpix

import (
	"math"

	skyhealpix "github.com/observerly/skysolve/pkg/healpix"
)

// Nside returns 2^order, the number of cells per base-face side.
func Nside(order int) int64 {
	return int64(1) << uint(order)
}

// Npix returns 12*nside^2, the total number of cells at a resolution.
func Npix(nside int64) int64 {
	return 12 * nside * nside
}

// NpixForOrder returns the pixel count at the given order, taken from
// github.com/observerly/skysolve/pkg/healpix rather than rederived, per the
// Non-goal on HEALPix math.
func NpixForOrder(order int) int64 {
	nside := Nside(order)
	return int64(skyhealpix.NewHealPIX(int(nside), skyhealpix.NESTED).GetNumberOfPixels())
}

// PixToVec converts a nested pixel index at the given nside plus a
// sub-pixel offset (u, v) in [0,1)x[0,1) to a unit vector on the sphere.
// u, v follow the spec's tile-pixel convention: (0,0) is one corner of the
// cell, (1,1) the opposite corner.
func PixToVec(nside int64, ipix int64, u, v float64) (x, y, z float64) {
	faceNum, ix, iy := nest2xyf(nside, ipix)

	fx := (float64(ix) + u) / float64(nside)
	fy := (float64(iy) + v) / float64(nside)

	// Continuous form of the discrete jr/jp relation in HEALPix_base.cc,
	// specialized to fractional ix/iy so sub-pixel offsets land correctly.
	jr := float64(jrll[faceNum]) - (fx + fy)
	phiFace := (math.Pi / 4) * (float64(jpll[faceNum]) + (fx - fy))

	var zz float64
	if jr < 1 {
		// North polar cap.
		zz = 1 - jr*jr/3
		if jr > 0 {
			phiFace = (math.Pi / 4) * (float64(jpll[faceNum]) + (fx-fy)/jr)
		}
	} else if jr > 3 {
		// South polar cap.
		nr := 4 - jr
		zz = nr*nr/3 - 1
		if nr > 0 {
			phiFace = (math.Pi / 4) * (float64(jpll[faceNum]) + (fx-fy)/nr)
		}
	} else {
		// Equatorial belt.
		zz = (2 - jr) * 2 / 3
	}

	sinTheta := math.Sqrt(math.Max(0, 1-zz*zz))
	x = sinTheta * math.Cos(phiFace)
	y = sinTheta * math.Sin(phiFace)
	z = zz
	return
}

// VecToAngle converts a unit vector to (theta, phi) colatitude/longitude in
// radians, theta in [0, pi], phi in [0, 2*pi).
func VecToAngle(x, y, z float64) (theta, phi float64) {
	theta = math.Acos(clamp(z, -1, 1))
	phi = math.Atan2(y, x)
	if phi < 0 {
		phi += 2 * math.Pi
	}
	return
}

// AngleToVec converts (theta, phi) colatitude/longitude in radians to a unit
// vector.
func AngleToVec(theta, phi float64) (x, y, z float64) {
	s := math.Sin(theta)
	return s * math.Cos(phi), s * math.Sin(phi), math.Cos(theta)
}

// AngToPixNest converts (theta, phi) to the nested pixel index at nside.
func AngToPixNest(nside int64, theta, phi float64) int64 {
	x, y, z := AngleToVec(theta, phi)
	return VecToPixNest(nside, x, y, z)
}

// VecToPixNest converts a unit vector to the nested pixel index at nside,
// matching the reference vec2pix_nest algorithm.
func VecToPixNest(nside int64, x, y, z float64) int64 {
	za := math.Abs(z)
	tt := math.Atan2(y, x) / (math.Pi / 2)
	if tt < 0 {
		tt += 4
	}

	var faceNum int64
	var ix, iy int64

	if za <= 2.0/3.0 {
		// Equatorial region.
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * z * 0.75
		jp := int64(temp1 - temp2)
		jm := int64(temp1 + temp2)
		ifp := jp / nside
		ifm := jm / nside
		if ifp == ifm {
			faceNum = ifp | 4
		} else if ifp < ifm {
			faceNum = ifp
		} else {
			faceNum = ifm + 8
		}
		ix = jm % nside
		iy = nside - (jp % nside) - 1
	} else {
		// Polar caps.
		ntt := int64(tt)
		if ntt >= 4 {
			ntt = 3
		}
		tp := tt - float64(ntt)
		tmp := float64(nside) * math.Sqrt(3*(1-za))

		jp := int64(tp * tmp)
		jm := int64((1 - tp) * tmp)
		if jp >= nside {
			jp = nside - 1
		}
		if jm >= nside {
			jm = nside - 1
		}

		if z >= 0 {
			faceNum = ntt
			ix = nside - jm - 1
			iy = nside - jp - 1
		} else {
			faceNum = ntt + 8
			ix = jp
			iy = jm
		}
	}

	return xyf2nest(nside, ix, iy, faceNum)
}

// NestToRing converts a nested pixel index to the ring-scheme index at the
// same nside.
func NestToRing(nside int64, ipnest int64) int64 {
	faceNum, ix, iy := nest2xyf(nside, ipnest)
	return xyf2ring(nside, ix, iy, faceNum)
}

// RingToNest converts a ring-scheme pixel index to the nested index at the
// same nside.
func RingToNest(nside int64, ipring int64) int64 {
	faceNum, ix, iy := ring2xyf(nside, ipring)
	return xyf2nest(nside, ix, iy, faceNum)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// --- bit interleaving helpers (standard HEALPix nested-scheme machinery) ---

var utab, ctab [256]uint32

func init() {
	for m := uint32(0); m < 256; m++ {
		utab[m] = (m&1)<<0 | (m&2)<<1 | (m&4)<<2 | (m&8)<<3 |
			(m&16)<<4 | (m&32)<<5 | (m&64)<<6 | (m&128)<<7
		ctab[m] = (m&1)<<0 | (m&2)<<7 | (m&4)>>1 | (m&8)<<6 |
			(m&16)>>2 | (m&32)<<5 | (m&64)>>3 | (m&128)<<4
	}
}

func spreadBits(v uint32) uint64 {
	return uint64(utab[v&0xff]) | uint64(utab[(v>>8)&0xff])<<16 |
		uint64(utab[(v>>16)&0xff])<<32 | uint64(utab[(v>>24)&0xff])<<48
}

func compressBits(v uint64) uint32 {
	raw := v & 0x5555555555555555
	raw |= raw >> 15
	return uint32(ctab[raw&0xff]) | uint32(ctab[(raw>>8)&0xff])<<4 |
		uint32(ctab[(raw>>32)&0xff])<<16 | uint32(ctab[(raw>>40)&0xff])<<20
}

func xyf2nest(nside int64, ix, iy, faceNum int64) int64 {
	return faceNum*nside*nside + int64(spreadBits(uint32(ix))|(spreadBits(uint32(iy))<<1))
}

func nest2xyf(nside int64, ipix int64) (faceNum, ix, iy int64) {
	npface := nside * nside
	faceNum = ipix / npface
	local := uint64(ipix & (npface - 1))
	ix = int64(compressBits(local))
	iy = int64(compressBits(local >> 1))
	return
}

// jrll/jpll describe the HEALPix base-face layout shared by the ring<->xyf
// conversion below.
var jrll = [12]int64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
var jpll = [12]int64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}

func xyf2ring(nside int64, ix, iy, faceNum int64) int64 {
	nl4 := 4 * nside
	jr := jrll[faceNum]*nside - ix - iy - 1

	var nr, nBefore, kshift int64
	switch {
	case jr < nside:
		// North polar cap.
		nr = jr
		nBefore = 2 * nr * (nr - 1)
		kshift = 0
	case jr > 3*nside:
		// South polar cap.
		nr = nl4 - jr
		nBefore = 12*nside*nside - 2*(nr+1)*nr
		kshift = 0
	default:
		// Equatorial belt.
		nr = nside
		nBefore = 2*nside*(nside-1) + (jr-nside)*nl4
		kshift = (jr - nside) & 1
	}

	jp := (jpll[faceNum]*nr + ix - iy + 1 + kshift) / 2
	if jp > nl4 {
		jp -= nl4
	} else if jp < 1 {
		jp += nl4
	}
	return nBefore + jp - 1
}

func ring2xyf(nside int64, pix int64) (faceNum, ix, iy int64) {
	ncap := 2 * nside * (nside - 1)
	npix := 12 * nside * nside
	nl2 := 2 * nside

	var iring, iphi, kshift, nr int64

	switch {
	case pix < ncap:
		// North polar cap.
		iring = (1 + isqrt(1+2*pix)) / 2
		iphi = (pix + 1) - 2*iring*(iring-1)
		kshift = 0
		nr = iring
		faceNum = 0
		tmp := iphi - 1
		if tmp >= 2*nr {
			tmp -= 2 * nr
			faceNum = 2
		}
		if tmp >= nr {
			faceNum++
		}
	case pix < npix-ncap:
		// Equatorial belt.
		ip := pix - ncap
		iring = ip/(4*nside) + nside
		iphi = ip%(4*nside) + 1
		kshift = (iring + nside) & 1
		nr = nside
		ire := iring - nside + 1
		irm := nl2 + 2 - ire
		ifm := (iphi - ire/2 + nside - 1) / nside
		ifp := (iphi - irm/2 + nside - 1) / nside
		switch {
		case ifp == ifm:
			if ifp == 4 {
				faceNum = 4
			} else {
				faceNum = ifp + 4
			}
		case ifp < ifm:
			faceNum = ifp
		default:
			faceNum = ifm + 8
		}
	default:
		// South polar cap.
		ip := npix - pix
		iring = (1 + isqrt(2*ip-1)) / 2
		iphi = 4*iring + 1 - (ip - 2*iring*(iring-1))
		kshift = 0
		nr = iring
		iring = 2*nl2 - iring
		faceNum = 8
		tmp := iphi - 1
		if tmp >= 2*nr {
			tmp -= 2 * nr
			faceNum = 10
		}
		if tmp >= nr {
			faceNum++
		}
	}

	irt := iring - jrll[faceNum]*nside + 1
	ipt := 2*iphi - jpll[faceNum]*nr - kshift - 1
	if ipt >= nl2 {
		ipt -= 8 * nside
	}
	ix = (ipt - irt) / 2
	iy = (-(ipt + irt)) / 2
	return
}

func isqrt(v int64) int64 {
	if v < 0 {
		return 0
	}
	r := int64(math.Sqrt(float64(v)))
	for r*r > v {
		r--
	}
	for (r+1)*(r+1) <= v {
		r++
	}
	return r
}
