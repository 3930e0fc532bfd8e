package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Charca/pkgshield/pkg/logger"
	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// DefaultURL is the public npm registry.
	DefaultURL = "https://registry.npmjs.org"
	// DefaultTimeout bounds a single metadata request.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "pkgshield"
)

// NpmClient fetches package documents from an npm-compatible registry.
// Each FetchMetadata call makes exactly one request.
type NpmClient struct {
	baseURL   string
	client    *http.Client
	userAgent string
	timeout   time.Duration
	limiter   *rate.Limiter
	breaker   *circuit.Breaker
}

// Option configures an NpmClient.
type Option func(*NpmClient)

// WithBaseURL points the client at another registry. Empty keeps the default.
func WithBaseURL(baseURL string) Option {
	return func(c *NpmClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *NpmClient) {
		c.client = hc
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *NpmClient) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *NpmClient) {
		c.userAgent = ua
	}
}

// WithRateLimit paces requests to at most rps per second. Zero or less is unlimited.
func WithRateLimit(rps float64) Option {
	return func(c *NpmClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithCircuitBreaker makes the client fail fast after threshold consecutive
// transport or 5xx failures. Zero or less disables the breaker.
func WithCircuitBreaker(threshold int) Option {
	return func(c *NpmClient) {
		if threshold <= 0 {
			c.breaker = nil
			return
		}
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = 30 * time.Second
		expBackoff.MaxInterval = 5 * time.Minute
		expBackoff.Multiplier = 2.0
		expBackoff.Reset()

		c.breaker = circuit.NewBreakerWithOptions(&circuit.Options{
			BackOff:    expBackoff,
			ShouldTrip: circuit.ConsecutiveTripFunc(int64(threshold)),
		})
	}
}

// NewNpmClient creates a client for the public npm registry, adjusted by opts.
func NewNpmClient(opts ...Option) *NpmClient {
	c := &NpmClient{
		baseURL:   DefaultURL,
		userAgent: defaultUserAgent,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Transport: newTransport()}
	}
	return c
}

// newTransport returns a transport that resolves hosts through a DNS cache.
func newTransport() *http.Transport {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// BaseURL returns the registry the client talks to.
func (c *NpmClient) BaseURL() string {
	return c.baseURL
}

// BreakerOpen reports whether the circuit breaker is currently rejecting requests.
func (c *NpmClient) BreakerOpen() bool {
	return c.breaker != nil && c.breaker.Tripped()
}

// PackageURL returns the document URL for name. Scoped names keep their
// leading "@" and have the slash escaped, as the registry expects.
func (c *NpmClient) PackageURL(name string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(name))
}

// FetchMetadata downloads the package document for name and extracts its
// latest tag and publish history.
func (c *NpmClient) FetchMetadata(ctx context.Context, name string) (*Metadata, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if c.breaker == nil {
		body, err := c.get(ctx, name)
		if err != nil {
			return nil, err
		}
		return parseMetadata(name, body)
	}

	if !c.breaker.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", c.baseURL, ErrRegistryUnavailable)
	}

	// Only outages count against the breaker; a missing package is an answer.
	var body []byte
	var fetchErr error
	err := c.breaker.Call(func() error {
		body, fetchErr = c.get(ctx, name)
		if fetchErr != nil && countsAsOutage(fetchErr) {
			return fetchErr
		}
		return nil
	}, 0)
	if errors.Is(err, circuit.ErrBreakerOpen) {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", c.baseURL, ErrRegistryUnavailable)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return parseMetadata(name, body)
}

func (c *NpmClient) get(ctx context.Context, name string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	pkgURL := c.PackageURL(name)
	logger.Debugf("Registry: fetching %s", pkgURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pkgURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching package info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: statusText(resp), URL: pkgURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading package info: %w", err)
	}
	return body, nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

func countsAsOutage(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// parseMetadata walks the document with gjson so the "time" object keeps
// registry order.
func parseMetadata(name string, body []byte) (*Metadata, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON for %s", ErrMalformedResponse, name)
	}
	doc := gjson.ParseBytes(body)

	distTags := doc.Get("dist-tags")
	if !distTags.IsObject() {
		return nil, fmt.Errorf("%w: %s has no dist-tags", ErrMalformedResponse, name)
	}
	times := doc.Get("time")
	if !times.IsObject() {
		return nil, fmt.Errorf("%w: %s has no publish times", ErrMalformedResponse, name)
	}

	meta := &Metadata{
		Name:   name,
		Latest: distTags.Get("latest").String(),
	}
	times.ForEach(func(key, value gjson.Result) bool {
		version := key.String()
		if version == timeKeyCreated || version == timeKeyModified {
			return true
		}
		if value.Type != gjson.String || value.String() == "" {
			return true
		}
		meta.Times = append(meta.Times, PublishTime{Version: version, Published: value.String()})
		return true
	})

	logger.Debugf("Registry: %s has %d published versions, latest %q", name, len(meta.Times), meta.Latest)
	return meta, nil
}
