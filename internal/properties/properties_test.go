package properties

import "testing"

func validSample() *Properties {
	p := New()
	p.Set("creator_did", "ivo://example/hips")
	p.Set("frame", "equatorial")
	p.Set("hips_order", "5")
	p.Set("hips_tile_width", "512")
	p.Set("hips_tile_format", "fits png")
	return p
}

func TestParseSkipsBlankAndCommentLines(t *testing.T) {
	text := "# a comment\n\ncreator_did = abc\n   \nframe = equatorial\n"
	p := Parse(text)
	if got, ok := p.Get("creator_did"); !ok || got != "abc" {
		t.Errorf("creator_did = %q, %v", got, ok)
	}
	if got, ok := p.Get("frame"); !ok || got != "equatorial" {
		t.Errorf("frame = %q, %v", got, ok)
	}
}

func TestParsePreservesOrderAndSplitsOnFirstEquals(t *testing.T) {
	p := Parse("a = 1\nb = x=y\n")
	if got, _ := p.Get("b"); got != "x=y" {
		t.Errorf("b = %q, want %q", got, "x=y")
	}
	out := p.Serialize()
	if out != "a = 1\nb = x=y\n" {
		t.Errorf("Serialize order mismatch: %q", out)
	}
}

func TestParseSerializeRoundTripIsIdempotent(t *testing.T) {
	p1 := validSample()
	p2 := Parse(p1.Serialize())
	if p1.Serialize() != p2.Serialize() {
		t.Errorf("round trip mismatch:\n%q\nvs\n%q", p1.Serialize(), p2.Serialize())
	}
}

func TestValidateAcceptsValidProperties(t *testing.T) {
	v := Validate(validSample())
	if !v.OK() {
		t.Errorf("expected valid properties, got missing=%v invalid=%v", v.Missing, v.Invalid)
	}
}

func TestValidateReportsMissingRequiredKeys(t *testing.T) {
	v := Validate(New())
	if len(v.Missing) == 0 {
		t.Error("expected missing required keys")
	}
}

func TestValidateReportsMinGreaterThanMax(t *testing.T) {
	p := validSample()
	p.Set("hips_order_min", "9")
	v := Validate(p)
	if v.OK() {
		t.Error("expected invalid: hips_order_min > hips_order")
	}
}

func TestValidateReportsCubeMissingDepth(t *testing.T) {
	p := validSample()
	p.Set("dataproduct_type", "cube")
	v := Validate(p)
	if v.OK() {
		t.Error("expected invalid: cube missing hips_cube_depth")
	}
}

func TestValidateAcceptsCubeWithDepth(t *testing.T) {
	p := validSample()
	p.Set("dataproduct_type", "cube")
	p.Set("hips_cube_depth", "4")
	v := Validate(p)
	if !v.OK() {
		t.Errorf("expected valid cube properties, got invalid=%v", v.Invalid)
	}
}

func TestValidateWarnsOnNonPowerOfTwoTileWidth(t *testing.T) {
	p := validSample()
	p.Set("hips_tile_width", "300")
	v := Validate(p)
	if len(v.Warnings) == 0 {
		t.Error("expected a power-of-two warning")
	}
}

func TestValidateRejectsUnsupportedFrame(t *testing.T) {
	p := validSample()
	p.Set("frame", "martian")
	v := Validate(p)
	if v.OK() {
		t.Error("expected invalid: unsupported frame")
	}
}
