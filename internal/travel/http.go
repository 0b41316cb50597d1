package travel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"crewroute/internal/model"
)

// HTTPProvider talks to an OSRM-compatible routing API. Calls are rate
// limited and bounded by a per-request timeout; any failure is wrapped
// as a model.ProviderError so the optimizer can degrade.
type HTTPProvider struct {
	client  *resty.Client
	limiter *rate.Limiter
}

type HTTPOptions struct {
	Endpoint  string // e.g. https://router.example.com
	Timeout   time.Duration
	RateRPS   float64
	RateBurst int
}

func NewHTTPProvider(opts HTTPOptions) *HTTPProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.RateRPS <= 0 {
		opts.RateRPS = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.Endpoint, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond)
	return &HTTPProvider{
		client:  c,
		limiter: rate.NewLimiter(rate.Limit(opts.RateRPS), opts.RateBurst),
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
		Legs     []struct {
			Duration float64 `json:"duration"`
			Distance float64 `json:"distance"`
		} `json:"legs"`
	} `json:"routes"`
}

func (p *HTTPProvider) Route(ctx context.Context, points []model.GeoPoint) (Estimate, error) {
	if len(points) < 2 {
		return Estimate{}, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return Estimate{}, &model.ProviderError{Op: "rate", Err: err}
	}

	coords := make([]string, len(points))
	for i, pt := range points {
		coords[i] = fmt.Sprintf("%f,%f", pt.Lng, pt.Lat)
	}
	var body osrmResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetQueryParam("overview", "false").
		Get("/route/v1/driving/" + strings.Join(coords, ";"))
	if err != nil {
		return Estimate{}, &model.ProviderError{Op: "route", Err: err}
	}
	if resp.IsError() {
		return Estimate{}, &model.ProviderError{Op: "route", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Estimate{}, &model.ProviderError{Op: "route", Err: fmt.Errorf("no route (code %q)", body.Code)}
	}

	rt := body.Routes[0]
	if len(rt.Legs) != len(points)-1 {
		return Estimate{}, &model.ProviderError{Op: "route", Err: fmt.Errorf("got %d legs for %d waypoints", len(rt.Legs), len(points))}
	}
	est := Estimate{
		TotalDurationMinutes: rt.Duration / 60,
		TotalDistanceMeters:  rt.Distance,
	}
	for _, l := range rt.Legs {
		est.Legs = append(est.Legs, Leg{DurationMinutes: l.Duration / 60, DistanceMeters: l.Distance})
	}
	return est, nil
}
