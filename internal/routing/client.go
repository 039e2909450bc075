package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"delivery-service/internal/geo"
)

// ErrNoRoute is returned when the routing service found no way between the
// two points. Callers treat it as "make no update", never as fatal.
var ErrNoRoute = errors.New("no route found")

// Estimate is the usable part of a directions response.
type Estimate struct {
	ETASeconds int64
	ETAText    string
	Polyline   string
	DistanceM  float64
}

// Client calls a third-party turn-by-turn routing API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a routing client with a bounded timeout
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type routeResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry string  `json:"geometry"`
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
		Legs     []struct {
			Duration float64 `json:"duration"`
			Distance float64 `json:"distance"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route fetches an estimate from origin to destination. The first route's
// first leg supplies the ETA; the route geometry is returned as an encoded
// polyline.
func (c *Client) Route(ctx context.Context, origin, destination geo.Point) (*Estimate, error) {
	u := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f",
		c.baseURL, origin.Lng, origin.Lat, destination.Lng, destination.Lat)

	q := url.Values{}
	q.Set("overview", "full")
	q.Set("geometries", "polyline")
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routing request returned %d", resp.StatusCode)
	}

	var out routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("routing response malformed: %w", err)
	}

	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, ErrNoRoute
	}

	route := out.Routes[0]
	duration := route.Duration
	distance := route.Distance
	if len(route.Legs) > 0 {
		duration = route.Legs[0].Duration
		distance = route.Legs[0].Distance
	}

	return &Estimate{
		ETASeconds: int64(duration),
		ETAText:    FormatETA(int64(duration)),
		Polyline:   route.Geometry,
		DistanceM:  distance,
	}, nil
}

// FormatETA renders a duration the way navigation apps do
func FormatETA(seconds int64) string {
	if seconds < 60 {
		return "1 min"
	}
	mins := (seconds + 30) / 60
	if mins < 60 {
		return fmt.Sprintf("%d mins", mins)
	}
	hours := mins / 60
	rem := mins % 60
	if rem == 0 {
		return fmt.Sprintf("%d hr", hours)
	}
	return fmt.Sprintf("%d hr %d mins", hours, rem)
}
