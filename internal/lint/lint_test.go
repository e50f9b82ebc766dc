package lint

import (
	"context"
	"testing"

	"github.com/hipsgo/hips/internal/healpath"
	"github.com/hipsgo/hips/internal/hipstypes"
	"github.com/hipsgo/hips/internal/storage"
	"github.com/hipsgo/hips/internal/tilecodec"
)

func writeTile(t *testing.T, target *storage.LocalDir, key hipstypes.TileKey) {
	t.Helper()
	tile := hipstypes.NewTile(4, 1)
	data, err := tilecodec.Encode(key, tile)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := target.WriteBinary(context.Background(), healpath.BuildPath(key), data); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}
}

func writeBasePyramid(t *testing.T) *storage.LocalDir {
	t.Helper()
	target := storage.NewLocalDir(t.TempDir())
	ctx := context.Background()
	propText := "creator_did = ivo://test/lint\n" +
		"frame = equatorial\n" +
		"hips_order = 2\n" +
		"hips_tile_width = 4\n" +
		"hips_tile_format = fits\n"
	if err := target.WriteText(ctx, healpath.PropertiesPath, propText); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	writeTile(t, target, hipstypes.TileKey{Order: 1, Ipix: 0, Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatFloatImage})
	return target
}

// TestLintReportsUndeclaredFormat matches spec.md end-to-end scenario 6:
// a pyramid declaring [floatImage] that also contains an undeclared .png
// tile must report exactly one TILE_FORMAT_UNDECLARED warning.
func TestLintReportsUndeclaredFormat(t *testing.T) {
	target := writeBasePyramid(t)
	writeTile(t, target, hipstypes.TileKey{Order: 2, Ipix: 0, Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatBytePng})

	issues, err := Lint(context.Background(), target)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}

	var undeclared []Issue
	for _, is := range issues {
		if is.Code == "TILE_FORMAT_UNDECLARED" {
			undeclared = append(undeclared, is)
		}
	}
	if len(undeclared) != 1 {
		t.Fatalf("TILE_FORMAT_UNDECLARED count = %d, want 1 (issues: %+v)", len(undeclared), issues)
	}
	if undeclared[0].Level != LevelWarning {
		t.Errorf("level = %q, want warning", undeclared[0].Level)
	}
	if undeclared[0].Path != "Norder2/Dir0/Npix0.png" {
		t.Errorf("path = %q, want Norder2/Dir0/Npix0.png", undeclared[0].Path)
	}
}

func TestLintReportsOrderOutOfBounds(t *testing.T) {
	target := writeBasePyramid(t)
	writeTile(t, target, hipstypes.TileKey{Order: 5, Ipix: 0, Frame: hipstypes.FrameEquatorial, Format: hipstypes.FormatFloatImage})

	issues, err := Lint(context.Background(), target)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	var found bool
	for _, is := range issues {
		if is.Code == "ORDER_OUT_OF_BOUNDS" && is.Level == LevelError {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an ORDER_OUT_OF_BOUNDS error, got %+v", issues)
	}
}

func TestLintReportsBadPathGrammar(t *testing.T) {
	target := writeBasePyramid(t)
	if err := target.WriteText(context.Background(), "Norder1/Dir0/notatile.txt", "junk"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	issues, err := Lint(context.Background(), target)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	var found bool
	for _, is := range issues {
		if is.Code == "BAD_PATH_GRAMMAR" && is.Path == "Norder1/Dir0/notatile.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a BAD_PATH_GRAMMAR error for the stray file, got %+v", issues)
	}
}

func TestLintReportsMissingAllsky(t *testing.T) {
	target := writeBasePyramid(t)

	issues, err := Lint(context.Background(), target)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	var found bool
	for _, is := range issues {
		if is.Code == "ALLSKY_MISSING" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an ALLSKY_MISSING warning, got %+v", issues)
	}
}

func TestLintCleanPyramidHasNoErrors(t *testing.T) {
	target := writeBasePyramid(t)
	allsky := hipstypes.TileKey{Order: healpath.AllskyOrder, Format: hipstypes.FormatFloatImage}
	tile := hipstypes.NewTile(4, 1)
	data, err := tilecodec.Encode(allsky, tile)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := target.WriteBinary(context.Background(), healpath.AllskyPath(hipstypes.FormatFloatImage), data); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}

	issues, err := Lint(context.Background(), target)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	for _, is := range issues {
		if is.Level == LevelError {
			t.Errorf("unexpected error issue: %+v", is)
		}
	}
}
