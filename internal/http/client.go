// Package http fetches pages with a plain HTTP client, without rendering.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/PentesterFlow/pagewalker/internal/errors"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) pagewalker/1.0"

// ClientConfig holds configuration for the static fetcher.
type ClientConfig struct {
	UserAgent     string            `yaml:"user_agent" json:"user_agent"`
	Headers       map[string]string `yaml:"headers" json:"headers"`
	SkipTLSVerify bool              `yaml:"skip_tls_verify" json:"skip_tls_verify"`
	MaxBodyBytes  int64             `yaml:"max_body_bytes" json:"max_body_bytes"`
	MaxRedirects  int               `yaml:"max_redirects" json:"max_redirects"`
}

// DefaultClientConfig returns defaults for single-page sequential fetching.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		UserAgent:    DefaultUserAgent,
		MaxBodyBytes: 5 * 1024 * 1024,
		MaxRedirects: 10,
	}
}

// Client is the static implementation of fetch.Fetcher.
type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
	maxBody   int64
}

// NewClient creates a static fetcher. Timeouts come from the context passed
// to Fetch.
func NewClient(config ClientConfig) *Client {
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultClientConfig().MaxBodyBytes
	}
	if config.MaxRedirects <= 0 {
		config.MaxRedirects = DefaultClientConfig().MaxRedirects
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	maxRedirects := config.MaxRedirects
	return &Client{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: config.UserAgent,
		headers:   config.Headers,
		maxBody:   config.MaxBodyBytes,
	}
}

// Kind implements fetch.Fetcher.
func (c *Client) Kind() fetch.Kind {
	return fetch.Static
}

// Fetch performs a GET and returns the decoded body.
func (c *Client) Fetch(ctx context.Context, targetURL string) (*fetch.Page, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, errors.New(errors.Network, targetURL, "request_creation", "failed to create request", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	if httpErr := errors.CategorizeHTTPStatus(resp.StatusCode, targetURL); httpErr != nil {
		return nil, httpErr
	}

	if resp.ContentLength > c.maxBody {
		return nil, errors.NewTooLargeError(targetURL, c.maxBody)
	}

	// one byte past the limit tells a full body from a cut one
	limited, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}
	if int64(len(limited)) > c.maxBody {
		return nil, errors.NewTooLargeError(targetURL, c.maxBody)
	}

	body, err := charset.NewReader(bytes.NewReader(limited), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, errors.NewNetworkError(targetURL, "body_decode", err)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.NewNetworkError(targetURL, "body_decode", err)
	}

	return &fetch.Page{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       string(raw),
		Duration:   time.Since(start),
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
