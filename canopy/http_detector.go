package canopy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultDetectTimeout is the default HTTP request timeout per tile.
	DefaultDetectTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of attempts per tile.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20
)

// DetectorOption configures an HTTPDetector.
type DetectorOption func(*detectorConfig)

type detectorConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultDetectorConfig() detectorConfig {
	return detectorConfig{
		timeout:     DefaultDetectTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) DetectorOption {
	return func(c *detectorConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts per tile.
func WithMaxRetries(n int) DetectorOption {
	return func(c *detectorConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) DetectorOption {
	return func(c *detectorConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) DetectorOption {
	return func(c *detectorConfig) {
		c.client = client
	}
}

// HTTPDetector posts each tile as a PNG to a remote inference endpoint and
// decodes the returned detection document. Transport errors and 5xx
// responses are retried with exponential backoff; a 4xx response means the
// endpoint rejected the tile and is not retried.
type HTTPDetector struct {
	url    string
	cfg    detectorConfig
	client *http.Client
}

// NewHTTPDetector creates a detector for the endpoint at url.
func NewHTTPDetector(url string, opts ...DetectorOption) (*HTTPDetector, error) {
	if url == "" {
		return nil, &ConfigError{Field: "detector url", Reason: "is empty"}
	}

	cfg := defaultDetectorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return &HTTPDetector{url: url, cfg: cfg, client: client}, nil
}

// errPermanent marks a response that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

// Detect implements Detector.
func (d *HTTPDetector) Detect(ctx context.Context, tile TileImage) ([]Detection, error) {
	body, err := tile.EncodePNG()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	var lastErr error
	for attempt := range d.cfg.maxRetries {
		if attempt > 0 {
			backoff := d.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("detect tile %d: %w", tile.Window.ID, ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := d.post(ctx, tile, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("detect tile %d: %w", tile.Window.ID, ctx.Err())
			}
			if errors.Is(err, errPermanent) {
				return nil, fmt.Errorf("%w: tile %d: %v", ErrDetection, tile.Window.ID, err)
			}
			lastErr = err
			continue
		}

		detections, err := DecodeDetections(bytes.NewReader(resp))
		if err != nil {
			// Malformed documents are not transient; do not retry.
			return nil, fmt.Errorf("%w: tile %d: %v", ErrDetection, tile.Window.ID, err)
		}
		return detections, nil
	}

	return nil, fmt.Errorf("%w: tile %d: all %d attempts failed: %v", ErrDetection, tile.Window.ID, d.cfg.maxRetries, lastErr)
}

// post performs a single request and returns the response body bytes.
func (d *HTTPDetector) post(ctx context.Context, tile TileImage, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w: %w", errPermanent, err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tile-Id", strconv.Itoa(tile.Window.ID))
	req.Header.Set("X-Tile-Width", strconv.Itoa(tile.Window.Bounds.Width))
	req.Header.Set("X-Tile-Height", strconv.Itoa(tile.Window.Bounds.Height))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POST %s: %w", d.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("HTTP POST %s: %w: status %d", d.url, errPermanent, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP POST %s: status %d", d.url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", d.url, err)
	}
	return data, nil
}
