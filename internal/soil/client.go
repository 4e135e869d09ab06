// Package soil looks up soil properties for a location from the OpenEPI soil
// API.
package soil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lox/yieldwise/internal/features"
	"github.com/lox/yieldwise/internal/httputil"
	"github.com/lox/yieldwise/internal/metrics"
)

const DefaultBaseURL = "https://api.openepi.io/soil"

// Profile is what the API knows about the soil at one point. Phosphorus and
// potassium are not published, so they are always left unset.
type Profile struct {
	SoilType   string                  `json:"soil_type"`
	Properties features.SoilProperties `json:"properties"`
}

type Client struct {
	baseURL    string
	client     *http.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithRateLimit caps outgoing requests per second, retries included.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithBackOff replaces the retry policy. The factory is called once per
// request.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(cl *Client) { cl.newBackOff = f }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		client:  httputil.NewClient(),
		limiter: rate.NewLimiter(5, 5),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

type typeResponse struct {
	Properties struct {
		MostProbableSoilType string `json:"most_probable_soil_type"`
	} `json:"properties"`
}

type propertyResponse struct {
	Properties struct {
		Layers []layer `json:"layers"`
	} `json:"properties"`
}

type layer struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	UnitMeasure struct {
		DFactor float64 `json:"d_factor"`
	} `json:"unit_measure"`
	Depths []struct {
		Label  string `json:"label"`
		Values struct {
			Mean *float64 `json:"mean"`
		} `json:"values"`
	} `json:"depths"`
}

// topsoilMean returns the mean of the shallowest depth, converted from the
// API's mapped units to target units.
func (l layer) topsoilMean() (float64, bool) {
	if len(l.Depths) == 0 || l.Depths[0].Values.Mean == nil {
		return 0, false
	}
	v := *l.Depths[0].Values.Mean
	if l.UnitMeasure.DFactor > 0 {
		v /= l.UnitMeasure.DFactor
	}
	return v, true
}

// Lookup fetches the soil type and topsoil properties at lat/lon. Both
// endpoints are queried concurrently.
func (c *Client) Lookup(ctx context.Context, lat, lon float64) (*Profile, error) {
	var (
		types typeResponse
		props propertyResponse
	)

	point := url.Values{}
	point.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	point.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	propQuery := maps.Clone(point)
	propQuery["depths"] = []string{"0-5cm", "5-15cm"}
	propQuery["properties"] = []string{"phh2o", "soc", "nitrogen"}
	propQuery["values"] = []string{"mean"}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.getJSON(gctx, "type", point, &types)
	})
	g.Go(func() error {
		return c.getJSON(gctx, "property", propQuery, &props)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	profile := &Profile{SoilType: types.Properties.MostProbableSoilType}
	if profile.SoilType == "" {
		profile.SoilType = "unknown"
	}
	for _, l := range props.Properties.Layers {
		v, ok := l.topsoilMean()
		if !ok {
			continue
		}
		switch {
		case l.Code == "phh2o" || l.Name == "pH in H2O":
			profile.Properties.PH = features.Float(v)
		case l.Code == "soc" || l.Name == "Soil organic carbon":
			profile.Properties.OrganicMatter = features.Float(v)
		case l.Code == "nitrogen" || l.Name == "Total nitrogen":
			profile.Properties.Nitrogen = features.Float(v)
		}
	}

	c.logger.Debug("soil lookup",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.String("soil_type", profile.SoilType),
	)
	return profile, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := c.baseURL + "/" + endpoint + "?" + query.Encode()

	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		metrics.SoilAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.SoilAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		metrics.SoilAPICallsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.logger.Warn("soil api retryable status", zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("fetch %s: status %d", endpoint, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", endpoint, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s body: %w", endpoint, err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", endpoint, err)
	}
	return nil
}
