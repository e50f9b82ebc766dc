// Package remote implements the optional remote cutout service collaborator
// (§6): an HTTP GET against a primary endpoint, falling back to a secondary
// on failure, with a default 25s timeout surfaced as a retryable IoError.
// No HTTP client library is wired here (none appears anywhere in the
// retrieval pack — see DESIGN.md) so this uses net/http directly, the
// idiomatic minimum.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hipsgo/hips/internal/herr"
)

// DefaultTimeout is the default per-request timeout (§5).
const DefaultTimeout = 25 * time.Second

// CutoutParams are the query parameters sent to the remote cutout service.
type CutoutParams struct {
	Hips   string
	Width  int
	Height int
	Format string

	// Either WcsKeywords (serialized keyword map) or the tuple below is
	// set, never both.
	WcsKeywords string

	Projection    string
	Fov           float64
	Ra            float64
	Dec           float64
	CoordSys      string
	RotationAngle float64
}

func (p CutoutParams) values() url.Values {
	v := url.Values{}
	v.Set("hips", p.Hips)
	v.Set("width", strconv.Itoa(p.Width))
	v.Set("height", strconv.Itoa(p.Height))
	v.Set("format", p.Format)
	if p.WcsKeywords != "" {
		v.Set("wcs", p.WcsKeywords)
		return v
	}
	v.Set("projection", p.Projection)
	v.Set("fov", strconv.FormatFloat(p.Fov, 'g', -1, 64))
	v.Set("ra", strconv.FormatFloat(p.Ra, 'g', -1, 64))
	v.Set("dec", strconv.FormatFloat(p.Dec, 'g', -1, 64))
	v.Set("coordsys", p.CoordSys)
	v.Set("rotation_angle", strconv.FormatFloat(p.RotationAngle, 'g', -1, 64))
	return v
}

// Client calls a remote cutout service with a primary + fallback endpoint
// pair.
type Client struct {
	Primary  string
	Fallback string // optional, empty to disable
	Timeout  time.Duration
	HTTP     *http.Client
}

// NewClient returns a Client with the default timeout and an internal
// *http.Client.
func NewClient(primary, fallback string) *Client {
	return &Client{
		Primary:  primary,
		Fallback: fallback,
		Timeout:  DefaultTimeout,
		HTTP:     &http.Client{},
	}
}

// Cutout requests a cutout image, trying the primary endpoint and then the
// fallback (if configured) on failure. The response body is the floatImage
// container bytes (4.A).
func (c *Client) Cutout(ctx context.Context, params CutoutParams) ([]byte, error) {
	data, err := c.fetch(ctx, c.Primary, params)
	if err == nil {
		return data, nil
	}
	if c.Fallback == "" {
		return nil, err
	}
	return c.fetch(ctx, c.Fallback, params)
}

func (c *Client) fetch(ctx context.Context, base string, params CutoutParams) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(base)
	if err != nil {
		return nil, herr.Io(herr.CodeNotFound, "invalid remote cutout endpoint", err)
	}
	u.RawQuery = params.values().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, herr.Io(herr.CodeNotFound, "building cutout request", err)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, herr.Io(herr.CodeNotFound, fmt.Sprintf("cutout request to %s failed (retryable)", base), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, herr.Io(herr.CodeNotFound, "reading cutout response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, herr.Io(herr.CodeNotFound, fmt.Sprintf("cutout request to %s returned status %d", base, resp.StatusCode), nil)
	}
	return body, nil
}
