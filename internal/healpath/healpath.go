// Package healpath implements the HEALPix on-disk path layout (4.C):
// mapping a TileKey to its bucketed relative path and back.
package healpath

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/hipsgo/hips/internal/hipstypes"
)

const dirBucketSize = 10000
const spectralBucketSize = 10

// PropertiesPath is the pyramid's key/value metadata sidecar path.
const PropertiesPath = "properties"

// MocPath is the optional coverage-map sidecar path.
const MocPath = "Moc.fits"

// AllskyOrder is the fixed order the all-sky mosaic lives at.
const AllskyOrder = 3

// AllskyPath returns the relative path of the all-sky mosaic for a format.
func AllskyPath(format hipstypes.Format) string {
	return fmt.Sprintf("Norder%d/Allsky.%s", AllskyOrder, format.Extension())
}

func dirBucket(ipix int64) int64 {
	return (ipix / dirBucketSize) * dirBucketSize
}

func spectralBucket(idx uint32) uint32 {
	return (idx / spectralBucketSize) * spectralBucketSize
}

// BuildPath returns the bucketed relative path for a tile key.
func BuildPath(key hipstypes.TileKey) string {
	ext := key.Format.Extension()
	if !key.HasSpectral {
		return fmt.Sprintf("Norder%d/Dir%d/Npix%d.%s", key.Order, dirBucket(key.Ipix), key.Ipix, ext)
	}
	return fmt.Sprintf("Norder%d_%d/Dir%d_%d/Npix%d_%d.%s",
		key.Order, key.SpectralOrder,
		dirBucket(key.Ipix), spectralBucket(key.SpectralIndex),
		key.Ipix, key.SpectralIndex, ext)
}

var (
	plainRe = regexp.MustCompile(`^Norder(\d+)/Dir(\d+)/Npix(\d+)\.(\w+)$`)
	cubeRe  = regexp.MustCompile(`^Norder(\d+)_(\d+)/Dir(\d+)_(\d+)/Npix(\d+)_(\d+)\.(\w+)$`)
)

// ParsePath parses a relative path back to a TileKey. ok is false when the
// path does not match the tile grammar (e.g. properties, Moc.fits, Allsky).
// The returned key's Frame is always FrameEquatorial: the path grammar does
// not encode frame, so callers resolve it from the pyramid's properties.
func ParsePath(rel string) (hipstypes.TileKey, bool) {
	if m := plainRe.FindStringSubmatch(rel); m != nil {
		order, _ := strconv.Atoi(m[1])
		ipix, _ := strconv.ParseInt(m[3], 10, 64)
		format, ok := hipstypes.ParseFormat(m[4])
		if !ok {
			return hipstypes.TileKey{}, false
		}
		if dirBucket(ipix) != mustAtoi64(m[2]) {
			return hipstypes.TileKey{}, false
		}
		return hipstypes.TileKey{Order: order, Ipix: ipix, Frame: hipstypes.FrameEquatorial, Format: format}, true
	}
	if m := cubeRe.FindStringSubmatch(rel); m != nil {
		order, _ := strconv.Atoi(m[1])
		sOrder, _ := strconv.ParseUint(m[2], 10, 8)
		ipix, _ := strconv.ParseInt(m[5], 10, 64)
		sIndex, _ := strconv.ParseUint(m[6], 10, 32)
		format, ok := hipstypes.ParseFormat(m[7])
		if !ok {
			return hipstypes.TileKey{}, false
		}
		if dirBucket(ipix) != mustAtoi64(m[3]) || int64(spectralBucket(uint32(sIndex))) != mustAtoi64(m[4]) {
			return hipstypes.TileKey{}, false
		}
		return hipstypes.TileKey{
			Order: order, Ipix: ipix,
			HasSpectral: true, SpectralOrder: uint8(sOrder), SpectralIndex: uint32(sIndex),
			Frame: hipstypes.FrameEquatorial, Format: format,
		}, true
	}
	return hipstypes.TileKey{}, false
}

func mustAtoi64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// IsReserved reports whether rel is one of the non-tile sidecar paths
// (properties, Moc.fits, or an Allsky mosaic at any order).
var allskyRe = regexp.MustCompile(`^Norder\d+/Allsky\.\w+$`)

func IsReserved(rel string) bool {
	return rel == PropertiesPath || rel == MocPath || allskyRe.MatchString(rel)
}
