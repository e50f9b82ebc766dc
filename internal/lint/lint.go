// Package lint implements pyramid structure validation (4.J): walking a
// pyramid (when the source supports enumeration) and cross-checking every
// on-disk tile against the path grammar, declared order, declared formats,
// cube/non-cube grammar, and the all-sky mosaic's presence at order 3.
// Grounded on the teacher's internal/pmtiles validation pass (one function
// walking entries and accumulating a flat issue list, never aborting on the
// first problem), generalized from a single archive's entry list to a
// pyramid's recursive file enumeration.
package lint

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hipsgo/hips/internal/healpath"
	"github.com/hipsgo/hips/internal/herr"
	"github.com/hipsgo/hips/internal/hipstypes"
	"github.com/hipsgo/hips/internal/properties"
)

// Level distinguishes a hard problem from an advisory one.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Issue is one lint finding: a level, a stable short code, the offending
// path, and a human message.
type Issue struct {
	Level   Level
	Code    string
	Path    string
	Message string
}

// Enumerator lists every path under a pyramid root. Only local roots (or
// any source that can enumerate itself) support lint; Lint accepts only
// sources that implement this interface.
type Enumerator interface {
	ReadText(ctx context.Context, path string) (string, error)
	ListPaths(ctx context.Context) ([]string, error)
}

// Lint walks source's paths and reports every structural issue found.
func Lint(ctx context.Context, source Enumerator) ([]Issue, error) {
	propText, err := source.ReadText(ctx, healpath.PropertiesPath)
	if err != nil {
		return nil, err
	}
	props := properties.Parse(propText)

	declaredOrder, hasOrder := intField(props, "hips_order")
	declaredFormats := declaredFormatSet(props)
	isCube := hipstypes.DataProductType(valueOr(props, "dataproduct_type", "")) == hipstypes.DataProductCube

	paths, err := source.ListPaths(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var issues []Issue
	sawAllsky := false

	for _, p := range paths {
		if healpath.IsReserved(p) {
			if strings.HasPrefix(p, fmt.Sprintf("Norder%d/Allsky.", healpath.AllskyOrder)) {
				sawAllsky = true
			}
			continue
		}

		key, ok := healpath.ParsePath(p)
		if !ok {
			issues = append(issues, Issue{
				Level: LevelError, Code: herr.CodeBadPathGrammar, Path: p,
				Message: "path does not match the tile grammar",
			})
			continue
		}

		if key.HasSpectral != isCube {
			issues = append(issues, Issue{
				Level: LevelError, Code: herr.CodeBadPathGrammar, Path: p,
				Message: "cube/non-cube path grammar does not match dataproduct_type",
			})
		}

		if hasOrder && key.Order > declaredOrder {
			issues = append(issues, Issue{
				Level: LevelError, Code: herr.CodeOrderOutOfBounds, Path: p,
				Message: fmt.Sprintf("tile order %d exceeds declared hips_order %d", key.Order, declaredOrder),
			})
		}

		if len(declaredFormats) > 0 && !declaredFormats[key.Format] {
			issues = append(issues, Issue{
				Level: LevelWarning, Code: herr.CodeTileFormatUndeclared, Path: p,
				Message: fmt.Sprintf("tile format %q is present but not declared in hips_tile_format", key.Format),
			})
		}
	}

	if !sawAllsky {
		issues = append(issues, Issue{
			Level: LevelWarning, Code: "ALLSKY_MISSING", Path: healpath.AllskyPath(hipstypes.FormatFloatImage),
			Message: "no all-sky mosaic found at order 3",
		})
	}

	return issues, nil
}

func intField(p *properties.Properties, key string) (int, bool) {
	v, ok := p.Get(key)
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func valueOr(p *properties.Properties, key, fallback string) string {
	if v, ok := p.Get(key); ok {
		return v
	}
	return fallback
}

func declaredFormatSet(p *properties.Properties) map[hipstypes.Format]bool {
	declared, ok := p.Get("hips_tile_format")
	if !ok || strings.TrimSpace(declared) == "" {
		return nil
	}
	set := make(map[hipstypes.Format]bool)
	for _, tok := range strings.Fields(strings.ReplaceAll(declared, ",", " ")) {
		format, ok := hipstypes.ParseFormat(normalizeToken(tok))
		if ok {
			set[format] = true
		}
	}
	return set
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
