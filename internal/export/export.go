// Package export implements the export engine (4.H): single-tile export,
// full-sphere map export, and rectilinear cutout, plus local/remote/auto
// backend selection. The per-export tile cache follows the teacher's
// internal/cog.TileCache eviction-by-insertion-order shape
// (internal/cog/tilecache.go), generalized from COG (level, col, row) keys
// to HEALPix ipix keys.
package export

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/hipsgo/hips/internal/container"
	"github.com/hipsgo/hips/internal/healpix"
	"github.com/hipsgo/hips/internal/herr"
	"github.com/hipsgo/hips/internal/hipstypes"
	"github.com/hipsgo/hips/internal/pyramid/reader"
	"github.com/hipsgo/hips/internal/remote"
	"github.com/hipsgo/hips/internal/reproject"
	"github.com/hipsgo/hips/internal/tilecodec"
	"github.com/hipsgo/hips/internal/wcs"
)

// Backend selects which collaborator an Engine's cutout call uses.
type Backend int

const (
	BackendLocal Backend = iota
	BackendRemote
	BackendAuto
)

// Engine bundles a local reader and, optionally, a remote cutout client.
type Engine struct {
	Reader       *reader.Reader
	RemoteClient *remote.Client
	HipsID       string
	Backend      Backend
	Resampling   reproject.Mode
	CacheSize    int
}

// NewEngine returns an Engine reading from r, defaulting to the local
// backend and bilinear resampling.
func NewEngine(r *reader.Reader) *Engine {
	return &Engine{Reader: r, Backend: BackendLocal, Resampling: reproject.Bilinear, CacheSize: 64}
}

// ExportTile re-encodes a decoded tile as a floatImage container carrying
// the synthesized tile WCS (4.B). A read-then-write cycle is bit-exact
// only when the source tile was already floatImage.
func (e *Engine) ExportTile(ctx context.Context, order int, ipix int64) ([]byte, error) {
	tile, err := e.Reader.ReadTile(ctx, order, ipix)
	if err != nil {
		return nil, err
	}
	frame, err := e.Reader.Frame(ctx)
	if err != nil {
		return nil, err
	}
	key := hipstypes.TileKey{Order: order, Ipix: ipix, Frame: frame, Format: hipstypes.FormatFloatImage}
	return tilecodec.Encode(key, tile)
}

// coordSysToken maps a frame to the COORDSYS keyword token (4 §6 keyword
// table).
func coordSysToken(frame hipstypes.Frame) string {
	switch frame {
	case hipstypes.FrameGalactic:
		return "G"
	case hipstypes.FrameEcliptic:
		return "E"
	default:
		return "C"
	}
}

// ExportMap builds a full-sphere map at the given order and ordering
// (NESTED or RING), default order is the pyramid's declared hips_order
// when order < 0. Each destination sample is the arithmetic mean of its
// tile's finite samples (4.H).
func (e *Engine) ExportMap(ctx context.Context, order int, ordering string) ([]byte, error) {
	frame, err := e.Reader.Frame(ctx)
	if err != nil {
		return nil, err
	}
	if order < 0 {
		p, err := e.Reader.Properties(ctx)
		if err != nil {
			return nil, err
		}
		v, ok := p.Get("hips_order")
		if !ok {
			return nil, herr.Validation(herr.CodeMissingProperty, "properties missing hips_order", nil)
		}
		order, err = strconv.Atoi(v)
		if err != nil {
			return nil, herr.Validation(herr.CodeInvalidProperty, "hips_order is not an integer", err)
		}
	}

	ordering = strings.ToUpper(ordering)
	if ordering != "NESTED" && ordering != "RING" {
		ordering = "NESTED"
	}

	nside := healpix.Nside(order)
	npix := healpix.NpixForOrder(order)
	samples := make([]float32, npix)
	for i := range samples {
		samples[i] = float32(math.NaN())
	}

	for ipix := int64(0); ipix < npix; ipix++ {
		select {
		case <-ctx.Done():
			return nil, herr.Cancelled(herr.CodeOperationCancelled, "map export cancelled")
		default:
		}
		tile, err := e.Reader.ReadTile(ctx, order, ipix)
		if err != nil {
			// The map exporter skips cells whose read fails (4.F/§7).
			continue
		}
		dest := ipix
		if ordering == "RING" {
			dest = healpix.NestToRing(nside, ipix)
		}
		samples[dest] = meanFinite(tile.Pixels)
	}

	var h container.Header
	h.Set("XTENSION", "BINTABLE", "")
	h.Set("BITPIX", int64(8), "")
	h.Set("NAXIS", int64(2), "")
	h.Set("NAXIS1", int64(4), "")
	h.Set("NAXIS2", npix, "")
	h.Set("PCOUNT", int64(0), "")
	h.Set("GCOUNT", int64(1), "")
	h.Set("TFIELDS", int64(1), "")
	h.Set("TTYPE1", "DATA", "")
	h.Set("TFORM1", "E", "")
	h.Set("ORDERING", ordering, "")
	h.Set("INDXSCHM", "IMPLICIT", "")
	h.Set("NSIDE", nside, "")
	h.Set("FIRSTPIX", int64(0), "")
	h.Set("LASTPIX", npix-1, "")
	h.Set("COORDSYS", coordSysToken(frame), "")

	data := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.BigEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return container.WriteUnits([]container.Unit{{Header: h, Data: data}})
}

func meanFinite(samples []float32) float32 {
	var sum float64
	var n int
	for _, v := range samples {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		sum += f
		n++
	}
	if n == 0 {
		return float32(math.NaN())
	}
	return float32(sum / float64(n))
}

// CutoutParams parameterizes a rectilinear cutout (4.H).
type CutoutParams struct {
	Width, Height int
	Ra, Dec, Fov  float64
	Projection    string
	RotationAngle float64

	// WcsHeader, when non-nil, is used verbatim in place of the
	// Ra/Dec/Fov/Projection/RotationAngle tuple.
	WcsHeader container.Header
}

func (e *Engine) buildCutoutWcs(params CutoutParams, frame hipstypes.Frame) (*wcs.Wcs, error) {
	if params.WcsHeader != nil {
		return wcs.FromHeader(params.WcsHeader)
	}

	proj := params.Projection
	if proj == "" {
		proj = "TAN"
	}
	ctype1, ctype2 := axisTokensForFrame(frame, proj)

	var h container.Header
	h.Set("CTYPE1", ctype1, "")
	h.Set("CTYPE2", ctype2, "")
	h.Set("CRVAL1", params.Ra, "")
	h.Set("CRVAL2", params.Dec, "")
	h.Set("CRPIX1", float64(params.Width)/2+0.5, "")
	h.Set("CRPIX2", float64(params.Height)/2+0.5, "")
	h.Set("CDELT1", -params.Fov/float64(params.Width), "")
	h.Set("CDELT2", params.Fov/float64(params.Height), "")
	h.Set("CROTA2", params.RotationAngle, "")
	return wcs.FromHeader(h)
}

func axisTokensForFrame(frame hipstypes.Frame, proj string) (string, string) {
	switch frame {
	case hipstypes.FrameGalactic:
		return "GLON-" + proj, "GLAT-" + proj
	case hipstypes.FrameEcliptic:
		return "ELON-" + proj, "ELAT-" + proj
	default:
		return "RA--" + "-" + proj, "DEC--" + proj
	}
}

// tileCache is a per-export bounded ipix -> Tile mapping, evicting the
// oldest entry on overflow (teacher's internal/cog.TileCache pattern).
type tileCache struct {
	mu      sync.Mutex
	entries map[int64]*hipstypes.Tile
	order   []int64
	maxSize int
}

func newTileCache(maxSize int) *tileCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &tileCache{entries: make(map[int64]*hipstypes.Tile, maxSize), maxSize: maxSize}
}

func (c *tileCache) get(ipix int64) (*hipstypes.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[ipix]
	return t, ok
}

func (c *tileCache) put(ipix int64, t *hipstypes.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[ipix]; ok {
		return
	}
	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[ipix] = t
	c.order = append(c.order, ipix)
}

// ExportCutout renders a rectilinear image by, for each output pixel,
// mapping to world coordinates, locating the containing HEALPix cell at
// the pyramid's max order, fetching (and caching) that tile, and sampling
// it via 4.E (4.H).
func (e *Engine) ExportCutout(ctx context.Context, params CutoutParams) ([]byte, error) {
	if e.Backend == BackendRemote {
		return e.exportCutoutRemote(ctx, params)
	}

	data, err := e.exportCutoutLocal(ctx, params)
	if err == nil || e.Backend == BackendLocal {
		return data, err
	}
	// auto: fall back to remote when a client and pyramid id are available.
	if e.RemoteClient != nil && e.HipsID != "" {
		return e.exportCutoutRemote(ctx, params)
	}
	return nil, err
}

func (e *Engine) exportCutoutRemote(ctx context.Context, params CutoutParams) ([]byte, error) {
	if e.RemoteClient == nil {
		return nil, herr.Io(herr.CodeNotFound, "no remote cutout client configured", nil)
	}
	return e.RemoteClient.Cutout(ctx, remote.CutoutParams{
		Hips: e.HipsID, Width: params.Width, Height: params.Height, Format: "fits",
		Projection: params.Projection, Fov: params.Fov, Ra: params.Ra, Dec: params.Dec,
		RotationAngle: params.RotationAngle,
	})
}

func (e *Engine) exportCutoutLocal(ctx context.Context, params CutoutParams) ([]byte, error) {
	frame, err := e.Reader.Frame(ctx)
	if err != nil {
		return nil, err
	}
	p, err := e.Reader.Properties(ctx)
	if err != nil {
		return nil, err
	}
	maxOrder, err := intProperty(p, "hips_order")
	if err != nil {
		return nil, err
	}
	tileWidth, err := intProperty(p, "hips_tile_width")
	if err != nil {
		return nil, err
	}

	targetWcs, err := e.buildCutoutWcs(params, frame)
	if err != nil {
		return nil, err
	}
	nside := healpix.Nside(maxOrder)

	cache := newTileCache(e.CacheSize)
	outPixels := make([]float32, params.Width*params.Height)
	blank := float32(math.NaN())

	for y := 0; y < params.Height; y++ {
		for x := 0; x < params.Width; x++ {
			select {
			case <-ctx.Done():
				return nil, herr.Cancelled(herr.CodeOperationCancelled, "cutout export cancelled")
			default:
			}
			lon, lat := targetWcs.PixelToWorld(float64(x), float64(y))
			theta := (90 - lat) * math.Pi / 180
			phi := lon * math.Pi / 180
			px, py, pz := healpix.AngleToVec(theta, phi)
			ipix := healpix.VecToPixNest(nside, px, py, pz)

			tile, ok := cache.get(ipix)
			if !ok {
				key := hipstypes.TileKey{Order: maxOrder, Ipix: ipix, Frame: frame}
				t, err := e.Reader.ReadTile(ctx, key.Order, key.Ipix)
				if err != nil {
					outPixels[y*params.Width+x] = blank
					continue
				}
				tile = t
				cache.put(ipix, tile)
			}

			tileX, tileY := tilePixelPosition(nside, ipix, tile.Width, lon, lat)
			outPixels[y*params.Width+x] = reproject.Sample(tile.Plane(0), tile.Width, tile.Width, tileX, tileY, e.Resampling, blank)
		}
	}

	var h container.Header
	h.Set("SIMPLE", true, "")
	h.Set("BITPIX", int64(-32), "")
	h.Set("NAXIS", int64(2), "")
	h.Set("NAXIS1", int64(params.Width), "")
	h.Set("NAXIS2", int64(params.Height), "")
	h.Set("EXTEND", true, "")
	h.Set("HIPSORD", int64(maxOrder), "")
	h.Set("HIPSFWID", int64(tileWidth), "")

	data := make([]byte, len(outPixels)*4)
	for i, v := range outPixels {
		binary.BigEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return container.WriteUnits([]container.Unit{{Header: h, Data: data}})
}

// tilePixelPosition approximates the inverse of the tile-header synthesis
// (4.B): rather than inverting HEALPix's nonlinear per-cell projection
// exactly, it uses the synthesized per-tile linear WCS's WorldToPixel as a
// cell-local approximation, accurate near the cell centre and consistent
// with the same linear model the tile header itself carries.
func tilePixelPosition(nside int64, ipix int64, tileWidth int, lon, lat float64) (float64, float64) {
	key := hipstypes.TileKey{Order: orderForNside(nside), Ipix: ipix}
	tw := wcs.TileWcs(key, tileWidth)
	x, y, err := tw.WorldToPixel(lon, lat)
	if err != nil {
		return float64(tileWidth) / 2, float64(tileWidth) / 2
	}
	return x, y
}

func orderForNside(nside int64) int {
	order := 0
	for int64(1)<<uint(order) < nside {
		order++
	}
	return order
}

func intProperty(p interface {
	Get(string) (string, bool)
}, key string) (int, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, herr.Validation(herr.CodeMissingProperty, "properties missing "+key, nil)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, herr.Validation(herr.CodeInvalidProperty, key+" is not an integer", err)
	}
	return n, nil
}

