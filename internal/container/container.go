// Package container implements the padded header/data block image container:
// fixed-width 80-byte keyword records grouped into 2880-byte blocks, exactly
// as used by every tile and map artifact this module emits. The record and
// block layout is the standard public-domain FITS convention the rest of the
// design describes; it is implemented directly here (see DESIGN.md) rather
// than through an external FITS binding because the writer/parser failure
// modes (EncodeError on overflow, ParseError::Truncated on short files) are
// exact contract requirements this package owns.
package container

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/hipsgo/hips/internal/herr"
)

const (
	recordLen = 80
	blockLen  = 2880
	recsPerBlock = blockLen / recordLen
)

// Record is one keyword = value / comment line.
type Record struct {
	Keyword string
	Value   any // nil, bool, int64, float64, string, or *big.Int
	Comment string
}

// Header is an ordered sequence of records, terminated implicitly by END.
type Header []Record

// Get returns the first record with the given keyword.
func (h Header) Get(keyword string) (Record, bool) {
	keyword = strings.ToUpper(keyword)
	for _, r := range h {
		if r.Keyword == keyword {
			return r, true
		}
	}
	return Record{}, false
}

// Int64 returns the integer value of a keyword, or ok=false if absent or
// not an integer-compatible value.
func (h Header) Int64(keyword string) (int64, bool) {
	r, ok := h.Get(keyword)
	if !ok {
		return 0, false
	}
	switch v := r.Value.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Float64 returns the numeric value of a keyword.
func (h Header) Float64(keyword string) (float64, bool) {
	r, ok := h.Get(keyword)
	if !ok {
		return 0, false
	}
	switch v := r.Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String returns the string value of a keyword with surrounding quotes and
// padding trimmed.
func (h Header) String(keyword string) (string, bool) {
	r, ok := h.Get(keyword)
	if !ok {
		return "", false
	}
	s, ok := r.Value.(string)
	return s, ok
}

// Set appends or replaces a record in place, preserving first occurrence
// order.
func (h *Header) Set(keyword string, value any, comment string) {
	keyword = strings.ToUpper(keyword)
	for i, r := range *h {
		if r.Keyword == keyword {
			(*h)[i].Value = value
			(*h)[i].Comment = comment
			return
		}
	}
	*h = append(*h, Record{Keyword: keyword, Value: value, Comment: comment})
}

// Unit is one header+data block pair within a container.
type Unit struct {
	Header Header
	Data   []byte
}

// WriteUnits serializes a sequence of units into the padded block format.
func WriteUnits(units []Unit) ([]byte, error) {
	var buf bytes.Buffer
	for _, u := range units {
		if err := writeHeader(&buf, u.Header); err != nil {
			return nil, err
		}
		buf.Write(u.Data)
		if pad := padTo(len(u.Data), blockLen); pad > 0 {
			buf.Write(make([]byte, pad))
		}
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, h Header) error {
	n := 0
	for _, r := range h {
		line, err := formatRecord(r)
		if err != nil {
			return err
		}
		buf.WriteString(line)
		n++
	}
	buf.WriteString(padRecord("END", ""))
	n++
	for n%recsPerBlock != 0 {
		buf.WriteString(strings.Repeat(" ", recordLen))
		n++
	}
	return nil
}

func padRecord(keyword, rest string) string {
	line := keyword
	if rest != "" {
		line += rest
	}
	if len(line) > recordLen {
		line = line[:recordLen]
	}
	return line + strings.Repeat(" ", recordLen-len(line))
}

func formatRecord(r Record) (string, error) {
	kw := strings.ToUpper(strings.TrimSpace(r.Keyword))
	if len(kw) > 8 {
		return "", herr.Encode(herr.CodeKeywordOverflow, fmt.Sprintf("keyword %q exceeds 8 characters", r.Keyword), nil)
	}
	kwField := kw + strings.Repeat(" ", 8-len(kw))

	valStr, err := formatValue(r.Value)
	if err != nil {
		return "", err
	}

	line := kwField + "= " + valStr
	if r.Comment != "" {
		line += " / " + r.Comment
	}
	if len(line) > recordLen {
		line = line[:recordLen]
	}
	return line + strings.Repeat(" ", recordLen-len(line)), nil
}

func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case bool:
		if val {
			return "T", nil
		}
		return "F", nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case *big.Int:
		return val.String(), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", herr.Encode(herr.CodeNonFiniteValue, "non-finite numeric keyword value", nil)
		}
		return formatFloat(val), nil
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", nil
	default:
		return "", herr.Encode(herr.CodeNonFiniteValue, fmt.Sprintf("unsupported keyword value type %T", v), nil)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'E', -1, 64)
	// Go emits e.g. "1E+00"; normalize the exponent sign/width to FITS style
	// ("1.0E+00") without a leading unsigned digit-only mantissa edge case.
	if !strings.Contains(s, ".") {
		idx := strings.IndexByte(s, 'E')
		s = s[:idx] + ".0" + s[idx:]
	}
	return s
}

func padTo(n, block int) int {
	rem := n % block
	if rem == 0 {
		return 0
	}
	return block - rem
}

// ParseUnits parses a sequence of padded header+data units. The total
// length must be a multiple of 2880 bytes.
func ParseUnits(data []byte) ([]Unit, error) {
	if len(data)%blockLen != 0 {
		return nil, herr.Parse(herr.CodeTruncated, "container length is not a multiple of 2880 bytes", nil)
	}

	var units []Unit
	off := 0
	for off < len(data) {
		h, consumed, err := parseHeader(data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed

		dataLen := computeDataLen(h)
		padded := dataLen + padTo(dataLen, blockLen)
		if off+padded > len(data) {
			return nil, herr.Parse(herr.CodeTruncated, "unit data runs past end of container", nil)
		}
		units = append(units, Unit{Header: h, Data: data[off : off+dataLen]})
		off += padded
	}
	return units, nil
}

func computeDataLen(h Header) int {
	bitpix, _ := h.Int64("BITPIX")
	naxis, _ := h.Int64("NAXIS")
	if naxis == 0 {
		return 0
	}
	n := int64(1)
	for i := int64(1); i <= naxis; i++ {
		ax, _ := h.Int64(fmt.Sprintf("NAXIS%d", i))
		n *= ax
	}
	bytesPerSample := int64(abs(int(bitpix))) / 8
	pcount, _ := h.Int64("PCOUNT")
	gcount, ok := h.Int64("GCOUNT")
	if !ok {
		gcount = 1
	}
	total := (pcount + n) * bytesPerSample * gcount
	if total < 0 {
		return 0
	}
	return int(total)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func parseHeader(data []byte) (Header, int, error) {
	var h Header
	off := 0
	for {
		if off+recordLen > len(data) {
			return nil, 0, herr.Parse(herr.CodeTruncated, "header ends before END record", nil)
		}
		line := string(data[off : off+recordLen])
		off += recordLen

		kw := strings.TrimRight(line[:8], " ")
		if kw == "END" {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, 0, err
		}
		h = append(h, rec)
	}
	// Consume padding to the next block boundary.
	for off%blockLen != 0 {
		off += recordLen
	}
	return h, off, nil
}

func parseRecord(line string) (Record, error) {
	kw := strings.TrimRight(line[:8], " ")
	if len(line) < 10 || line[8:10] != "= " {
		return Record{Keyword: kw, Value: nil, Comment: strings.TrimSpace(line[8:])}, nil
	}
	rest := line[10:]

	var valuePart, comment string
	if idx := findSlashOutsideQuotes(rest); idx >= 0 {
		valuePart = strings.TrimSpace(rest[:idx])
		comment = strings.TrimSpace(rest[idx+1:])
	} else {
		valuePart = strings.TrimSpace(rest)
	}

	val, err := parseValue(valuePart)
	if err != nil {
		return Record{}, err
	}
	return Record{Keyword: kw, Value: val, Comment: comment}, nil
}

func findSlashOutsideQuotes(s string) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '/':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}

func parseValue(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "'") {
		end := strings.LastIndex(s, "'")
		if end <= 0 {
			return nil, herr.Parse(herr.CodeTruncated, "unterminated string value", nil)
		}
		inner := s[1:end]
		return strings.ReplaceAll(inner, "''", "'"), nil
	}
	if s == "T" {
		return true, nil
	}
	if s == "F" {
		return false, nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if bi, ok := new(big.Int).SetString(s, 10); ok {
		return bi, nil
	}
	norm := strings.ReplaceAll(strings.ReplaceAll(s, "D", "E"), "d", "e")
	if f, err := strconv.ParseFloat(norm, 64); err == nil {
		return f, nil
	}
	return nil, herr.Parse(herr.CodeTruncated, fmt.Sprintf("unparseable keyword value %q", s), nil)
}
