// Package builder implements the pyramid builder (4.F): reprojecting a
// source image with a WCS into a HEALPix tile pyramid, aggregating
// order-by-order down to a minimum order, and emitting the all-sky mosaic,
// coverage map, and properties descriptor. The worker-pool-per-level shape
// follows the teacher's internal/tile.Generate (fan jobs over a channel,
// collect via sync.WaitGroup, observe an order-level barrier before moving
// to the next level) generalized from a zoom pyramid to a HEALPix order
// pyramid.
package builder

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hipsgo/hips/internal/container"
	"github.com/hipsgo/hips/internal/healpath"
	"github.com/hipsgo/hips/internal/healpix"
	"github.com/hipsgo/hips/internal/herr"
	"github.com/hipsgo/hips/internal/hipstypes"
	"github.com/hipsgo/hips/internal/properties"
	"github.com/hipsgo/hips/internal/reproject"
	"github.com/hipsgo/hips/internal/storage"
	"github.com/hipsgo/hips/internal/tilecodec"
	"github.com/hipsgo/hips/internal/wcs"
)

// Config configures a single pyramid build.
type Config struct {
	// MaxOrder is the finest order to generate tiles at. Nil derives it
	// from the source image resolution and TileWidth (4.F step 2).
	MaxOrder *int
	// MinOrder is the coarsest order tiles are persisted at.
	MinOrder int
	// TileWidth is the pyramid-wide tile edge, in pixels.
	TileWidth int
	// Formats lists the tile encodings to emit for every cell.
	Formats []hipstypes.Format
	// Frame is the sky coordinate frame of the pyramid.
	Frame hipstypes.Frame
	// DataProduct selects image vs. cube semantics.
	DataProduct hipstypes.DataProductType
	// CubeDepth is the number of spectral planes; ignored unless
	// DataProduct is DataProductCube.
	CubeDepth int
	// IncludeAllsky synthesizes Norder3/Allsky.<ext>.
	IncludeAllsky bool
	// IncludeMoc writes Moc.fits over the populated max-order cells.
	IncludeMoc bool
	// Resampling selects the reprojection kernel.
	Resampling reproject.Mode
	// Concurrency bounds the number of cells reprojected in parallel per
	// order. Defaults to 4 when unset.
	Concurrency int
	// CreatorDid is emitted verbatim as the properties creator_did.
	CreatorDid string
	// Progress, if set, is called as cells are reprojected at the max order
	// (lower orders are aggregated, not reprojected), reporting (order,
	// processed, total): processed counts the cells accepted so far (cells
	// with no finite sample are not reported) and total is the number of
	// cells at that order. Adapted from the
	// teacher's tile.progressBar, which reported per-zoom-level XYZ tile
	// counts the same way; here the unit of progress is a HEALPix cell
	// within an order rather than an XYZ tile within a zoom level. Called
	// from a single goroutine, so it need not be safe for concurrent use.
	Progress func(order, processed, total int)
}

// Stats summarizes a completed build.
type Stats struct {
	GeneratedTiles int
	EmptyCells     int
}

// Build runs the full pyramid builder algorithm (4.F) against a single
// floatImage source container, writing all artifacts via target.
func Build(ctx context.Context, cfg Config, source []byte, target storage.Target) (Stats, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	sourceWcs, pixels, srcW, srcH, srcDepth, err := decodeSource(source)
	if err != nil {
		return Stats{}, err
	}

	depth := 1
	if cfg.DataProduct == hipstypes.DataProductCube && cfg.CubeDepth > 0 {
		depth = cfg.CubeDepth
	}
	if srcDepth > depth {
		depth = srcDepth
	}

	maxOrder := 0
	if cfg.MaxOrder != nil {
		maxOrder = *cfg.MaxOrder
	} else if srcW > 0 && srcH > 0 {
		maxOrder = deriveMaxOrder(srcW, srcH, cfg.TileWidth)
	}

	var stats Stats
	levels := make(map[int]map[int64]*hipstypes.Tile)

	if srcW > 0 && srcH > 0 && len(pixels) > 0 {
		finest, err := reprojectLevel(ctx, cfg, maxOrder, sourceWcs, pixels, srcW, srcH, depth)
		if err != nil {
			return stats, err
		}
		levels[maxOrder] = finest
		stats.GeneratedTiles += len(finest)
		if err := writeLevel(ctx, target, cfg, maxOrder, finest); err != nil {
			return stats, err
		}

		lowest := cfg.MinOrder
		if cfg.IncludeAllsky && lowest > healpath.AllskyOrder {
			lowest = healpath.AllskyOrder
		}
		for o := maxOrder - 1; o >= lowest && o >= 0; o-- {
			level := aggregateLevel(levels[o+1], cfg.TileWidth, depth)
			levels[o] = level
			if o >= cfg.MinOrder {
				stats.GeneratedTiles += len(level)
				if err := writeLevel(ctx, target, cfg, o, level); err != nil {
					return stats, err
				}
			}
		}
	}

	var allskyRestriction string
	if cfg.IncludeAllsky {
		allskyRestriction, err = buildAllsky(ctx, cfg, levels[healpath.AllskyOrder], target)
		if err != nil {
			return stats, err
		}
	}

	if cfg.IncludeMoc {
		if err := writeMoc(ctx, target, maxOrder, levels[maxOrder]); err != nil {
			return stats, err
		}
	}

	if err := writeProperties(ctx, cfg, maxOrder, allskyRestriction, target); err != nil {
		return stats, err
	}

	return stats, nil
}

// deriveMaxOrder implements 4.F step 2's default resolution rule.
func deriveMaxOrder(w, h, tileWidth int) int {
	maxDim := w
	if h > maxDim {
		maxDim = h
	}
	if tileWidth <= 0 {
		tileWidth = 1
	}
	order := int(math.Ceil(math.Log2(float64(maxDim) / float64(tileWidth))))
	if order < 0 {
		order = 0
	}
	if order > 13 {
		order = 13
	}
	return order
}

type cellResult struct {
	ipix int64
	tile *hipstypes.Tile
}

// reprojectLevel fans reprojection of every candidate cell at order across
// cfg.Concurrency workers, keeping only cells with at least one finite
// sample (4.F step 3).
func reprojectLevel(ctx context.Context, cfg Config, order int, sourceWcs *wcs.Wcs, pixels []float32, srcW, srcH, depth int) (map[int64]*hipstypes.Tile, error) {
	npix := healpix.NpixForOrder(order)

	jobs := make(chan int64, cfg.Concurrency*2)
	results := make(chan cellResult, cfg.Concurrency*2)
	var wg sync.WaitGroup

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ipix := range jobs {
				key := hipstypes.TileKey{Order: order, Ipix: ipix, Frame: cfg.Frame}
				tile := reproject.ReprojectPlaneToTile(key, cfg.TileWidth, sourceWcs, pixels, srcW, srcH, depth, cfg.Resampling)
				if !reproject.HasFiniteSample(tile) {
					continue
				}
				results <- cellResult{ipix: ipix, tile: tile}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for ipix := int64(0); ipix < npix; ipix++ {
			select {
			case jobs <- ipix:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	level := make(map[int64]*hipstypes.Tile)
	processed := 0
	for r := range results {
		level[r.ipix] = r.tile
		processed++
		if cfg.Progress != nil {
			cfg.Progress(order, processed, int(npix))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, herr.Cancelled(herr.CodeOperationCancelled, "build cancelled during reprojection")
	}
	return level, nil
}

// aggregateLevel composes order o+1's four-children groups into order o
// tiles by placing children in nested child order (childOrder[i] =
// 4*parentIpix + i) and downsampling 2x2 -> 1x1 via 4.E mean (4.F step 5).
func aggregateLevel(children map[int64]*hipstypes.Tile, tileWidth, depth int) map[int64]*hipstypes.Tile {
	parents := make(map[int64]bool)
	for childIpix := range children {
		parents[childIpix/4] = true
	}

	level := make(map[int64]*hipstypes.Tile, len(parents))
	for parent := range parents {
		var quad [4]*hipstypes.Tile
		any := false
		for i := 0; i < 4; i++ {
			if t, ok := children[4*parent+int64(i)]; ok {
				quad[i] = t
				any = true
			}
		}
		if !any {
			continue
		}
		composed := composeChildren(quad, tileWidth, depth)
		downsampled := downsampleTile(composed, depth)
		if reproject.HasFiniteSample(downsampled) {
			level[parent] = downsampled
		}
	}
	return level
}

// composeChildren places up to 4 child tiles into a 2w x 2w grid. Child i's
// quadrant is (bit0(i)*w, bit1(i)*w): the nested scheme's two-bit child
// suffix is exactly the (x-parity, y-parity) of the child's position within
// the parent cell's (u, v) unit square, the same axes ReprojectPlaneToTile
// samples tile pixels along.
func composeChildren(children [4]*hipstypes.Tile, w, depth int) *hipstypes.Tile {
	composed := hipstypes.NewTile(2*w, depth)
	for i, child := range children {
		if child == nil {
			continue
		}
		colStart := (i & 1) * w
		rowStart := ((i >> 1) & 1) * w
		for d := 0; d < depth; d++ {
			for y := 0; y < w; y++ {
				for x := 0; x < w; x++ {
					composed.Set(colStart+x, rowStart+y, d, child.At(x, y, d))
				}
			}
		}
	}
	return composed
}

func downsampleTile(composed *hipstypes.Tile, depth int) *hipstypes.Tile {
	outW := composed.Width / 2
	out := hipstypes.NewTile(outW, depth)
	for d := 0; d < depth; d++ {
		down, _ := reproject.Downsample(composed.Plane(d), composed.Width, true)
		copy(out.Plane(d), down)
	}
	return out
}

// writeLevel encodes and writes every tile in level for each declared
// format. Cube tiles (depth > 1) are restricted to floatImage: the lossy
// codecs only carry a single plane (4.D) and would silently drop the rest.
func writeLevel(ctx context.Context, target storage.Target, cfg Config, order int, level map[int64]*hipstypes.Tile) error {
	for ipix, tile := range level {
		for _, format := range cfg.Formats {
			if tile.Depth > 1 && format != hipstypes.FormatFloatImage {
				continue
			}
			key := hipstypes.TileKey{Order: order, Ipix: ipix, Frame: cfg.Frame, Format: format}
			data, err := tilecodec.Encode(key, tile)
			if err != nil {
				return err
			}
			if err := target.WriteBinary(ctx, healpath.BuildPath(key), data); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildAllsky synthesizes Norder3/Allsky.<ext> (4.F step 6) by tiling every
// populated order-3 cell into a square mosaic, ipix-major. Cube pyramids
// are restricted to floatImage regardless of the requested formats, and the
// first lossy format requested is reported back so the caller can record
// hips_allsky_restriction (§9 open question b).
func buildAllsky(ctx context.Context, cfg Config, order3 map[int64]*hipstypes.Tile, target storage.Target) (string, error) {
	if len(order3) == 0 || len(cfg.Formats) == 0 {
		return "", nil
	}

	npix3 := hipstypes.TileKey{Order: healpath.AllskyOrder}.Npix()
	cols := int(math.Ceil(math.Sqrt(float64(npix3))))
	w := cfg.TileWidth

	depth := 1
	for _, t := range order3 {
		depth = t.Depth
		break
	}

	mosaic := hipstypes.NewTile(cols*w, depth)
	for ipix, tile := range order3 {
		col := int(ipix) % cols
		row := int(ipix) / cols
		for d := 0; d < depth; d++ {
			for y := 0; y < w; y++ {
				for x := 0; x < w; x++ {
					mosaic.Set(col*w+x, row*w+y, d, tile.At(x, y, d))
				}
			}
		}
	}

	format := cfg.Formats[0]
	restricted := ""
	if depth > 1 {
		for _, f := range cfg.Formats {
			if f != hipstypes.FormatFloatImage {
				restricted = formatToken(f)
				break
			}
		}
		format = hipstypes.FormatFloatImage
	}

	key := hipstypes.TileKey{Order: healpath.AllskyOrder, Ipix: 0, Frame: cfg.Frame, Format: format}
	data, err := tilecodec.Encode(key, mosaic)
	if err != nil {
		return "", err
	}
	if err := target.WriteBinary(ctx, healpath.AllskyPath(format), data); err != nil {
		return "", err
	}
	return restricted, nil
}

// writeMoc encodes the populated max-order cells as a MOC-style NUNIQ
// binary table (4*4^order + ipix, standard MOC cell numbering) and writes
// Moc.fits (4.F step 7).
func writeMoc(ctx context.Context, target storage.Target, order int, covered map[int64]*hipstypes.Tile) error {
	uniq := make([]int64, 0, len(covered))
	base := int64(4) << uint(2*order)
	for ipix := range covered {
		uniq = append(uniq, base+ipix)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	var h container.Header
	h.Set("XTENSION", "BINTABLE", "")
	h.Set("BITPIX", int64(8), "")
	h.Set("NAXIS", int64(2), "")
	h.Set("NAXIS1", int64(8), "")
	h.Set("NAXIS2", int64(len(uniq)), "")
	h.Set("PCOUNT", int64(0), "")
	h.Set("GCOUNT", int64(1), "")
	h.Set("TFIELDS", int64(1), "")
	h.Set("TTYPE1", "UNIQ", "")
	h.Set("TFORM1", "K", "")

	data := make([]byte, len(uniq)*8)
	for i, v := range uniq {
		binary.BigEndian.PutUint64(data[i*8:], uint64(v))
	}

	out, err := container.WriteUnits([]container.Unit{{Header: h, Data: data}})
	if err != nil {
		return err
	}
	return target.WriteBinary(ctx, healpath.MocPath, out)
}

// writeProperties emits the properties descriptor (4.I) for this build.
func writeProperties(ctx context.Context, cfg Config, maxOrder int, allskyRestriction string, target storage.Target) error {
	p := properties.New()
	p.Set("creator_did", cfg.CreatorDid)
	p.Set("frame", string(cfg.Frame))
	p.Set("hips_order", strconv.Itoa(maxOrder))
	p.Set("hips_order_min", strconv.Itoa(cfg.MinOrder))
	p.Set("hips_tile_width", strconv.Itoa(cfg.TileWidth))

	tokens := make([]string, len(cfg.Formats))
	for i, f := range cfg.Formats {
		tokens[i] = formatToken(f)
	}
	p.Set("hips_tile_format", strings.Join(tokens, " "))
	p.Set("dataproduct_type", string(cfg.DataProduct))
	if cfg.DataProduct == hipstypes.DataProductCube {
		p.Set("hips_cube_depth", strconv.Itoa(cfg.CubeDepth))
	}
	if allskyRestriction != "" {
		p.Set("hips_allsky_restriction", allskyRestriction)
	}

	return target.WriteText(ctx, healpath.PropertiesPath, p.Serialize())
}

func formatToken(f hipstypes.Format) string {
	switch f {
	case hipstypes.FormatFloatImage:
		return "fits"
	case hipstypes.FormatBytePng:
		return "png"
	case hipstypes.FormatByteJpeg:
		return "jpg"
	default:
		return string(f)
	}
}
