package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Resolver turns a station page into a directly playable stream URL.
type Resolver interface {
	Resolve(ctx context.Context, page string) (string, error)
}

// StaticResolver resolves every page to a fixed URL. An empty URL resolves
// a page to itself, which lets a stream URL be used as the page.
type StaticResolver struct {
	URL string
}

// Resolve implements Resolver.
func (r StaticResolver) Resolve(_ context.Context, page string) (string, error) {
	if r.URL != "" {
		return r.URL, nil
	}
	if page == "" {
		return "", fmt.Errorf("%w: no stream URL configured", ErrInvalidConfig)
	}
	return page, nil
}

// Default PageResolver settings.
const (
	DefaultResolveTimeout = 15 * time.Second
	DefaultResolveRate    = 0.5 // page fetches per second
	DefaultResolveBurst   = 2
	maxPageSize           = 4 << 20
	defaultUserAgent      = "radiorec/1.0"
)

// PageResolverConfig configures a PageResolver.
type PageResolverConfig struct {
	// Pattern is a regular expression matching the stream URL inside the page.
	Pattern string

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Client            *http.Client
	UserAgent         string
	Logger            *slog.Logger
}

// PageResolver fetches a player page and extracts the first URL matching a
// pattern. Fetches are rate-limited so a flapping pool cannot hammer the
// station's web server.
type PageResolver struct {
	pattern   *regexp.Regexp
	client    *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
}

// NewPageResolver compiles the pattern and applies defaults.
func NewPageResolver(cfg PageResolverConfig) (*PageResolver, error) {
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("%w: url pattern is required", ErrInvalidConfig)
	}
	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url pattern: %v", ErrInvalidConfig, err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResolveTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultResolveRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultResolveBurst
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &PageResolver{
		pattern:   pattern,
		client:    cfg.Client,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger.With("component", "resolver"),
	}, nil
}

// Resolve implements Resolver.
func (r *PageResolver) Resolve(ctx context.Context, page string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("resolve rate limit: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Debug("Fetching player page", "page", page)
	body, err := r.fetch(reqCtx, page)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w: %s after %s", ErrResolveTimeout, page, r.timeout)
		}
		return "", err
	}

	// Player pages often embed URLs in JSON with escaped slashes.
	body = strings.ReplaceAll(body, `\/`, `/`)
	match := r.pattern.FindString(body)
	if match == "" {
		return "", fmt.Errorf("no stream URL matching %q found on %s", r.pattern.String(), page)
	}

	r.logger.Debug("Resolved stream URL", "page", page, "url", match)
	return match, nil
}

func (r *PageResolver) fetch(ctx context.Context, page string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return "", fmt.Errorf("invalid page URL %s: %w", page, err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: %s", page, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", page, err)
	}
	return string(data), nil
}
