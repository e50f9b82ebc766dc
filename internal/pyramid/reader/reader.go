// Package reader implements the pyramid reader (4.G): resolving tiles and
// the all-sky mosaic from a HipsSource by trying each declared format in
// preference order, with a memoised properties load. Grounded on the
// teacher's internal/cog.Reader (construct-then-memoise-metadata,
// read-tile-by-coordinate shape), generalized from a single-file COG
// reader to a multi-file HEALPix pyramid.
package reader

import (
	"context"
	"strings"
	"sync"

	"github.com/hipsgo/hips/internal/healpath"
	"github.com/hipsgo/hips/internal/herr"
	"github.com/hipsgo/hips/internal/hipstypes"
	"github.com/hipsgo/hips/internal/properties"
	"github.com/hipsgo/hips/internal/storage"
	"github.com/hipsgo/hips/internal/tilecodec"
)

// HipsSource is the capability a Reader pulls pyramid bytes through. A
// storage.Target already satisfies this; LocalRoot/RemoteRoot collaborators
// (§6) are expected to adapt to it.
type HipsSource interface {
	ReadBinary(ctx context.Context, path string) ([]byte, error)
	ReadText(ctx context.Context, path string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// LocalRoot adapts a local directory to HipsSource.
func LocalRoot(dir string) HipsSource {
	return storage.NewLocalDir(dir)
}

// Reader resolves tiles and the all-sky mosaic out of a pyramid.
type Reader struct {
	source HipsSource

	mu    sync.Mutex
	props *properties.Properties
}

// New returns a Reader over source. Properties are not loaded until the
// first call that needs them (getProperties is memoised per §5's ordering
// guarantee 3).
func New(source HipsSource) *Reader {
	return &Reader{source: source}
}

// getProperties lazily loads and memoises the pyramid's properties file.
func (r *Reader) getProperties(ctx context.Context) (*properties.Properties, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.props != nil {
		return r.props, nil
	}
	text, err := r.source.ReadText(ctx, healpath.PropertiesPath)
	if err != nil {
		return nil, err
	}
	r.props = properties.Parse(text)
	return r.props, nil
}

// Properties returns the pyramid's memoised properties, for callers (such
// as the export engine) that need fields beyond frame and tile format.
func (r *Reader) Properties(ctx context.Context) (*properties.Properties, error) {
	return r.getProperties(ctx)
}

// Frame resolves the pyramid's declared sky frame.
func (r *Reader) Frame(ctx context.Context) (hipstypes.Frame, error) {
	p, err := r.getProperties(ctx)
	if err != nil {
		return "", err
	}
	frame, ok := p.Get("frame")
	if !ok || !hipstypes.Frame(frame).Valid() {
		return "", herr.Validation(herr.CodeMissingProperty, "properties missing a valid frame", nil)
	}
	return hipstypes.Frame(frame), nil
}

// tileFormats returns the parsed, normalized declared tile-format
// preference order, defaulting to [floatImage] when absent (4.G).
func (r *Reader) tileFormats(ctx context.Context) ([]hipstypes.Format, error) {
	p, err := r.getProperties(ctx)
	if err != nil {
		return nil, err
	}
	declared, ok := p.Get("hips_tile_format")
	if !ok || strings.TrimSpace(declared) == "" {
		return []hipstypes.Format{hipstypes.FormatFloatImage}, nil
	}
	var formats []hipstypes.Format
	for _, tok := range strings.Fields(strings.ReplaceAll(declared, ",", " ")) {
		format, ok := hipstypes.ParseFormat(normalizeToken(tok))
		if ok {
			formats = append(formats, format)
		}
	}
	if len(formats) == 0 {
		formats = []hipstypes.Format{hipstypes.FormatFloatImage}
	}
	return formats, nil
}

func normalizeToken(tok string) string {
	switch strings.ToLower(strings.TrimSpace(tok)) {
	case "fits", "floatimage", "float":
		return "fits"
	case "png", "bytepng":
		return "png"
	case "jpeg", "jpg", "bytejpeg":
		return "jpg"
	default:
		return tok
	}
}

// ReadTile resolves frame from properties, then tries declared formats in
// preference order until one decode succeeds, returning a normalized
// float-plane Tile (4.G).
func (r *Reader) ReadTile(ctx context.Context, order int, ipix int64) (*hipstypes.Tile, error) {
	frame, err := r.Frame(ctx)
	if err != nil {
		return nil, err
	}
	formats, err := r.tileFormats(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, format := range formats {
		key := hipstypes.TileKey{Order: order, Ipix: ipix, Frame: frame, Format: format}
		data, err := r.source.ReadBinary(ctx, healpath.BuildPath(key))
		if err != nil {
			lastErr = err
			continue
		}
		tile, err := tilecodec.Decode(key, data)
		if err != nil {
			lastErr = err
			continue
		}
		return tile, nil
	}
	if lastErr == nil {
		lastErr = herr.Decode(herr.CodeNotFound, "no declared tile format available", nil)
	}
	return nil, lastErr
}

// ReadAllsky tries the requested format (if any) or every declared format
// in turn, returning the first successfully decoded all-sky mosaic.
func (r *Reader) ReadAllsky(ctx context.Context, format hipstypes.Format) (*hipstypes.Tile, error) {
	candidates := []hipstypes.Format{format}
	if format == "" {
		var err error
		candidates, err = r.tileFormats(ctx)
		if err != nil {
			return nil, err
		}
	}

	var lastErr error
	for _, f := range candidates {
		if f == "" {
			continue
		}
		data, err := r.source.ReadBinary(ctx, healpath.AllskyPath(f))
		if err != nil {
			lastErr = err
			continue
		}
		key := hipstypes.TileKey{Order: healpath.AllskyOrder, Format: f}
		tile, err := tilecodec.Decode(key, data)
		if err != nil {
			lastErr = err
			continue
		}
		return tile, nil
	}
	if lastErr == nil {
		lastErr = herr.Decode(herr.CodeNotFound, "no all-sky mosaic available", nil)
	}
	return nil, lastErr
}
