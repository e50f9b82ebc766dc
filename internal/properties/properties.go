// Package properties implements the pyramid metadata sidecar (4.I):
// parsing, emitting, and validating the line-based key/value "properties"
// file.
package properties

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hipsgo/hips/internal/hipstypes"
)

// entry preserves insertion order alongside the key/value pair.
type entry struct {
	key, value string
}

// Properties is an ordered key/value list, duplicate keys keep only the
// first occurrence's position but Set updates the value in place.
type Properties struct {
	entries []entry
	index   map[string]int
}

// New returns an empty Properties ready for Set calls.
func New() *Properties {
	return &Properties{index: make(map[string]int)}
}

// Parse parses the line-based key=value format: trim, skip blank lines and
// lines starting with '#', split on the first '=', preserve insertion
// order.
func Parse(text string) *Properties {
	p := New()
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.IndexByte(trimmed, '=')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+1:])
		p.Set(key, value)
	}
	return p
}

// Get returns a value by key.
func (p *Properties) Get(key string) (string, bool) {
	if i, ok := p.index[key]; ok {
		return p.entries[i].value, true
	}
	return "", false
}

// Set appends or updates a key, preserving first-occurrence order.
func (p *Properties) Set(key, value string) {
	if i, ok := p.index[key]; ok {
		p.entries[i].value = value
		return
	}
	p.index[key] = len(p.entries)
	p.entries = append(p.entries, entry{key: key, value: value})
}

// Serialize emits the ordered key/value list as "key = value\n" lines.
func (p *Properties) Serialize() string {
	var b strings.Builder
	for _, e := range p.entries {
		b.WriteString(e.key)
		b.WriteString(" = ")
		b.WriteString(e.value)
		b.WriteByte('\n')
	}
	return b.String()
}

// Validation is the result of validating a Properties against the required
// keys and inter-field constraints of 4.I.
type Validation struct {
	Missing  []string
	Invalid  []string
	Warnings []string
}

// OK reports whether there are no missing or invalid fields (warnings do
// not affect validity).
func (v Validation) OK() bool {
	return len(v.Missing) == 0 && len(v.Invalid) == 0
}

var requiredKeys = []string{
	"creator_did",
	"frame",
	"hips_order",
	"hips_tile_width",
	"hips_tile_format",
}

// Validate checks required fields and inter-field constraints.
func Validate(p *Properties) Validation {
	var v Validation

	for _, key := range requiredKeys {
		if _, ok := p.Get(key); !ok {
			v.Missing = append(v.Missing, key)
		}
	}

	minOrder, hasMin := intField(p, "hips_order_min")
	maxOrder, hasMax := intField(p, "hips_order")
	if hasMin && hasMax && minOrder > maxOrder {
		v.Invalid = append(v.Invalid, "hips_order_min > hips_order")
	}

	if frame, ok := p.Get("frame"); ok && !hipstypes.Frame(frame).Valid() {
		v.Invalid = append(v.Invalid, fmt.Sprintf("unsupported frame %q", frame))
	}

	if formats, ok := p.Get("hips_tile_format"); ok {
		for _, f := range splitFormats(formats) {
			if _, ok := hipstypes.ParseFormat(normalizeFormatToken(f)); !ok {
				v.Invalid = append(v.Invalid, fmt.Sprintf("unsupported tile format %q", f))
			}
		}
	}

	dataproduct, _ := p.Get("dataproduct_type")
	if hipstypes.DataProductType(dataproduct) == hipstypes.DataProductCube {
		if _, ok := p.Get("hips_cube_depth"); !ok {
			v.Invalid = append(v.Invalid, "cube pyramid missing hips_cube_depth")
		}
	}

	if width, ok := intField(p, "hips_tile_width"); ok && !isPowerOfTwo(width) {
		v.Warnings = append(v.Warnings, "hips_tile_width is not a power of two")
	}

	return v
}

func intField(p *Properties, key string) (int, bool) {
	s, ok := p.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// splitFormats splits a space- or comma-separated declared-format list.
func splitFormats(s string) []string {
	s = strings.ReplaceAll(s, ",", " ")
	return strings.Fields(s)
}

// normalizeFormatToken maps the properties file's on-wire format name
// (e.g. "png", "jpeg", "fits") to the hipstypes.Format extension token
// ParseFormat expects.
func normalizeFormatToken(tok string) string {
	tok = strings.ToLower(strings.TrimSpace(tok))
	switch tok {
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
