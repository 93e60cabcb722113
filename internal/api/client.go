// Package api speaks the backend's sync endpoints. The rest of the
// repository treats the server as a contract: one batch GPS endpoint
// with prefix-success accounting, one endpoint per completion action
// type, and idempotent reference-data reads.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/routeworks/haulsync/internal/model"
)

// MaxBatchSize is the server's ceiling on points per batch call. The
// coordinator chunks below it; the client clamps as a backstop.
const MaxBatchSize = 100

// TokenSource supplies the bearer token. Auth is an external concern:
// the sync layer only carries the opaque credential.
type TokenSource interface {
	Token() (string, error)
}

// BatchResult is the batch endpoint's accounting.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Client is the endpoint surface the sync coordinator drains through.
type Client interface {
	// PushGPSBatch submits points in the given order and returns the
	// server's accounting. Protocol requirement: the server processes
	// the batch in submission order and Processed counts a contiguous
	// prefix, so exactly the first Processed items may be presumed
	// durable server-side. This prefix semantic is a stated contract
	// with the backend, not an inference.
	PushGPSBatch(ctx context.Context, points []model.GPSPoint) (BatchResult, error)

	// CompleteStop replays a stop-complete action.
	CompleteStop(ctx context.Context, a model.CompletionAction) error

	// SkipStop replays a stop-skip action.
	SkipStop(ctx context.Context, a model.CompletionAction) error

	// CompleteRoute replays a route-complete action.
	CompleteRoute(ctx context.Context, a model.CompletionAction) error

	// FetchRoutes reads the full route snapshot.
	FetchRoutes(ctx context.Context) ([]model.Route, error)

	// FetchTrucks reads the full truck snapshot.
	FetchTrucks(ctx context.Context) ([]model.Truck, error)
}

// HTTPClient is the production Client over net/http.
type HTTPClient struct {
	base   *url.URL
	tokens TokenSource
	http   *http.Client
}

// NewHTTPClient creates a client for the given base URL.
func NewHTTPClient(baseURL string, tokens TokenSource) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", baseURL)
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPClient{
		base:   base,
		tokens: tokens,
		http: &http.Client{
			Transport: tr,
			Timeout:   30 * time.Second,
		},
	}, nil
}

// gpsWirePoint is the batch endpoint's body shape. RouteID serializes
// to null, not empty string, when the driver is off-route.
type gpsWirePoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
	RouteID   *string `json:"routeId"`
	Timestamp string  `json:"timestamp"`
}

// PushGPSBatch implements Client.
func (c *HTTPClient) PushGPSBatch(ctx context.Context, points []model.GPSPoint) (BatchResult, error) {
	if len(points) == 0 {
		return BatchResult{}, nil
	}
	if len(points) > MaxBatchSize {
		points = points[:MaxBatchSize]
	}

	wire := make([]gpsWirePoint, len(points))
	for i, p := range points {
		wp := gpsWirePoint{
			Lat:       p.Lat,
			Lng:       p.Lng,
			Speed:     p.Speed,
			Heading:   p.Heading,
			Timestamp: p.CapturedAt.UTC().Format(time.RFC3339),
		}
		if p.RouteID != "" {
			routeID := p.RouteID
			wp.RouteID = &routeID
		}
		wire[i] = wp
	}

	var result BatchResult
	err := c.post(ctx, "/api/gps/batch", map[string]any{"points": wire}, &result)
	if err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

// CompleteStop implements Client.
func (c *HTTPClient) CompleteStop(ctx context.Context, a model.CompletionAction) error {
	return c.post(ctx, "/api/stops/complete", map[string]any{
		"routeId":     a.RouteID,
		"stopId":      a.StopID,
		"note":        a.Note,
		"completedAt": a.RecordedAt.UTC().Format(time.RFC3339),
	}, nil)
}

// SkipStop implements Client.
func (c *HTTPClient) SkipStop(ctx context.Context, a model.CompletionAction) error {
	return c.post(ctx, "/api/stops/skip", map[string]any{
		"routeId":   a.RouteID,
		"stopId":    a.StopID,
		"reason":    a.Note,
		"skippedAt": a.RecordedAt.UTC().Format(time.RFC3339),
	}, nil)
}

// CompleteRoute implements Client.
func (c *HTTPClient) CompleteRoute(ctx context.Context, a model.CompletionAction) error {
	return c.post(ctx, "/api/routes/complete", map[string]any{
		"routeId":     a.RouteID,
		"completedAt": a.RecordedAt.UTC().Format(time.RFC3339),
	}, nil)
}

// FetchRoutes implements Client.
func (c *HTTPClient) FetchRoutes(ctx context.Context) ([]model.Route, error) {
	var routes []model.Route
	if err := c.get(ctx, "/api/routes", &routes); err != nil {
		return nil, err
	}
	return routes, nil
}

// FetchTrucks implements Client.
func (c *HTTPClient) FetchTrucks(ctx context.Context) ([]model.Truck, error) {
	var trucks []model.Truck
	if err := c.get(ctx, "/api/trucks", &trucks); err != nil {
		return nil, err
	}
	return trucks, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		// Completion endpoints: success/failure only, body unused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
