package container

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hipsgo/hips/internal/herr"
)

func sampleUnit() Unit {
	var h Header
	h.Set("SIMPLE", true, "")
	h.Set("BITPIX", int64(-32), "")
	h.Set("NAXIS", int64(2), "")
	h.Set("NAXIS1", int64(2), "")
	h.Set("NAXIS2", int64(1), "")
	h.Set("EXTEND", true, "")
	data := make([]byte, 8) // 2 float32 samples
	return Unit{Header: h, Data: data}
}

func TestWriteUnitsBlockAlignment(t *testing.T) {
	buf, err := WriteUnits([]Unit{sampleUnit()})
	if err != nil {
		t.Fatalf("WriteUnits: %v", err)
	}
	if len(buf)%blockLen != 0 {
		t.Fatalf("output length %d is not a multiple of %d", len(buf), blockLen)
	}
}

func TestWriteParseRoundTrip(t *testing.T) {
	u := sampleUnit()
	u.Data = []byte{0, 1, 2, 3, 4, 5, 6, 7}

	buf, err := WriteUnits([]Unit{u})
	if err != nil {
		t.Fatalf("WriteUnits: %v", err)
	}

	units, err := ParseUnits(buf)
	if err != nil {
		t.Fatalf("ParseUnits: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if !bytes.Equal(units[0].Data, u.Data) {
		t.Errorf("data mismatch: got %v, want %v", units[0].Data, u.Data)
	}
	bitpix, ok := units[0].Header.Int64("BITPIX")
	if !ok || bitpix != -32 {
		t.Errorf("BITPIX = %v, %v, want -32, true", bitpix, ok)
	}
}

func TestParseUnitsRejectsTruncatedLength(t *testing.T) {
	_, err := ParseUnits(make([]byte, blockLen+1))
	if err == nil {
		t.Fatal("expected truncation error")
	}
	var herrErr *herr.Error
	if !errors.As(err, &herrErr) || herrErr.Kind != herr.KindParse || herrErr.Code != herr.CodeTruncated {
		t.Errorf("expected ParseError/%s, got %v", herr.CodeTruncated, err)
	}
}

func TestEncodeRejectsOverlongKeyword(t *testing.T) {
	var h Header
	h.Set("TOOLONGKEYWORD", int64(1), "")
	_, err := WriteUnits([]Unit{{Header: h, Data: nil}})
	if err == nil {
		t.Fatal("expected keyword overflow error")
	}
	var herrErr *herr.Error
	if !errors.As(err, &herrErr) || herrErr.Code != herr.CodeKeywordOverflow {
		t.Errorf("expected %s, got %v", herr.CodeKeywordOverflow, err)
	}
}

func TestEncodeRejectsNonFiniteValue(t *testing.T) {
	var h Header
	h.Set("BADVAL", 1.0/zero(), "")
	_, err := WriteUnits([]Unit{{Header: h, Data: nil}})
	if err == nil {
		t.Fatal("expected non-finite value error")
	}
	var herrErr *herr.Error
	if !errors.As(err, &herrErr) || herrErr.Code != herr.CodeNonFiniteValue {
		t.Errorf("expected %s, got %v", herr.CodeNonFiniteValue, err)
	}
}

func zero() float64 { return 0 }

func TestStringValueRoundTrip(t *testing.T) {
	var h Header
	h.Set("CTYPE1", "RA---TAN", "")
	h.Set("OBJECT", "it's a test", "")
	h.Set("NAXIS", int64(0), "")

	buf, err := WriteUnits([]Unit{{Header: h}})
	if err != nil {
		t.Fatalf("WriteUnits: %v", err)
	}
	units, err := ParseUnits(buf)
	if err != nil {
		t.Fatalf("ParseUnits: %v", err)
	}
	got, ok := units[0].Header.String("OBJECT")
	if !ok || got != "it's a test" {
		t.Errorf("OBJECT = %q, %v, want %q, true", got, ok, "it's a test")
	}
	ctype, ok := units[0].Header.String("CTYPE1")
	if !ok || ctype != "RA---TAN" {
		t.Errorf("CTYPE1 = %q, %v", ctype, ok)
	}
}

func TestMultipleUnits(t *testing.T) {
	u1 := sampleUnit()
	u2 := sampleUnit()
	u2.Header.Set("XTENSION", "IMAGE", "")
	u2.Header.Set("PCOUNT", int64(0), "")
	u2.Header.Set("GCOUNT", int64(1), "")

	buf, err := WriteUnits([]Unit{u1, u2})
	if err != nil {
		t.Fatalf("WriteUnits: %v", err)
	}
	units, err := ParseUnits(buf)
	if err != nil {
		t.Fatalf("ParseUnits: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	xt, ok := units[1].Header.String("XTENSION")
	if !ok || xt != "IMAGE" {
		t.Errorf("XTENSION = %q, %v", xt, ok)
	}
}
