// Package remote reads enrollment tables from another rischooldata server
// over its HTTP API, so hosts without R can share one R installation.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
)

const (
	defaultRateLimitPerSec = 5
	defaultRateLimitBurst  = 5
	defaultTimeoutSeconds  = 660
	defaultMaxRetries      = 2
	defaultUserAgent       = "rischooldata-remote/0.1"
	defaultAPIKeyHeader    = "X-API-Key"
	maxRetryAfter          = time.Minute
)

var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrRateLimited  = errors.New("remote: rate limited")
	ErrClosed       = errors.New("remote: provider closed")
)

type Config struct {
	BaseURL         string
	APIKey          string
	APIKeyHeader    string
	RateLimitPerSec int
	RateLimitBurst  int
	Timeout         time.Duration
	MaxRetries      int
	UserAgent       string
	Logger          *slog.Logger
}

type Provider struct {
	config  Config
	client  *http.Client
	limiter *rateLimiter
	logger  *slog.Logger
}

// apiError mirrors the server's JSON error body.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewWithConfig(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("remote: base url is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	if cfg.RateLimitPerSec == 0 {
		cfg.RateLimitPerSec = defaultRateLimitPerSec
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		logger:  logger.With("provider", "remote"),
	}, nil
}

func (p *Provider) Name() string {
	return "remote"
}

// Close stops the rate limiter. The provider must not be used afterwards.
func (p *Provider) Close() error {
	p.limiter.Close()
	return nil
}

func (p *Provider) AvailableYears(ctx context.Context) (model.AvailableYears, error) {
	body, err := p.doRequest(ctx, http.MethodGet, "api/years", nil, nil)
	if err != nil {
		return model.AvailableYears{}, err
	}
	var years model.AvailableYears
	if err := json.Unmarshal(body, &years); err != nil {
		return model.AvailableYears{}, fmt.Errorf("remote: decode years: %w", err)
	}
	return years, nil
}

// FetchEnrollment asks for CSV so every cell arrives exactly as the server
// holds it. The server applies its own cache policy; UseCache is not sent.
func (p *Provider) FetchEnrollment(ctx context.Context, year int, opts providers.FetchOptions) (model.Table, error) {
	params := url.Values{}
	params.Set("format", string(export.FormatCSV))
	if !opts.Tidy {
		params.Set("raw", "true")
	}
	body, err := p.doRequest(ctx, http.MethodGet, "api/enrollment/"+strconv.Itoa(year), params, nil)
	if err != nil {
		return model.Table{}, err
	}
	return decodeTable(body)
}

func (p *Provider) TidyEnrollment(ctx context.Context, raw model.Table) (model.Table, error) {
	var payload bytes.Buffer
	if err := export.WriteCSV(&payload, raw); err != nil {
		return model.Table{}, fmt.Errorf("remote: encode raw table: %w", err)
	}
	params := url.Values{}
	params.Set("format", string(export.FormatCSV))
	body, err := p.doRequest(ctx, http.MethodPost, "api/tidy", params, payload.Bytes())
	if err != nil {
		return model.Table{}, err
	}
	return decodeTable(body)
}

func (p *Provider) doRequest(ctx context.Context, method, path string, params url.Values, payload []byte) ([]byte, error) {
	attempts := p.config.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, status, retryAfter, err := p.doOnce(ctx, method, path, params, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(status) || attempt == attempts-1 {
			break
		}
		if retryAfter <= 0 {
			retryAfter = time.Duration(attempt+1) * time.Second
		}
		p.logger.Warn("retrying request", "path", path, "status", status, "wait", retryAfter, "attempt", attempt+1)
		if err := sleepWithContext(ctx, retryAfter); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Provider) doOnce(ctx context.Context, method, path string, params url.Values, payload []byte) ([]byte, int, time.Duration, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, 0, 0, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.buildURL(path, params), reader)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Accept", "text/csv, application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "text/csv")
	}
	if p.config.APIKey != "" {
		req.Header.Set(p.config.APIKeyHeader, p.config.APIKey)
	}
	req.Header.Set("User-Agent", p.config.UserAgent)

	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, err
	}
	p.logger.Debug("remote request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(started).Round(time.Millisecond),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, parseRetryAfter(resp), statusError(resp, body)
	}
	return body, resp.StatusCode, 0, nil
}

func (p *Provider) buildURL(path string, params url.Values) string {
	endpoint := p.config.BaseURL + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return endpoint
}

// statusError maps the server's error codes back onto provider errors so a
// client sitting on a remote provider classifies failures the same way.
func statusError(resp *http.Response, body []byte) error {
	var payload apiError
	_ = json.Unmarshal(body, &payload)
	message := strings.TrimSpace(payload.Error)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	switch {
	case payload.Code == "year_unavailable", payload.Code == "invalid_year":
		return fmt.Errorf("%w: %s", providers.ErrYearUnavailable, message)
	case payload.Code == "tidy_unsupported":
		return fmt.Errorf("%w: %s", providers.ErrTidyUnsupported, message)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (%s)", ErrUnauthorized, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("remote: upstream timeout: %s: %w", message, context.DeadlineExceeded)
	default:
		return fmt.Errorf("remote: request failed (%s): %s", resp.Status, message)
	}
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	var wait time.Duration
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		wait = time.Duration(seconds) * time.Second
	} else if when, err := time.Parse(http.TimeFormat, value); err == nil {
		wait = time.Until(when)
	}
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	if wait < 0 {
		return 0
	}
	return wait
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func decodeTable(body []byte) (model.Table, error) {
	table, err := export.ReadCSV(bytes.NewReader(body))
	if err != nil {
		return model.Table{}, fmt.Errorf("remote: decode table: %w", err)
	}
	return table, nil
}

var _ providers.Provider = (*Provider)(nil)
