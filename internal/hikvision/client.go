// Package hikvision is a small client for the ISAPI endpoints the adapter
// consumes: still pictures, absolute PTZ and the alert notification stream.
package hikvision

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/icholy/digest"
)

// Auth schemes
const (
	AuthDigest = "digest"
	AuthBasic  = "basic"
)

// Config contains device connection settings
type Config struct {
	Host     string
	HTTPPort int
	Username string
	Password string
	Auth     string // AuthDigest (default) or AuthBasic

	// Timeout bounds regular requests. The alert stream is only bounded by
	// its context.
	Timeout time.Duration

	// BaseURL overrides the URL derived from Host and HTTPPort
	BaseURL string
}

// Client issues ISAPI requests against one device
type Client struct {
	baseURL  string
	username string
	password string
	auth     string
	http     *http.Client
	stream   *http.Client
}

// NewClient creates a new device client
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		if cfg.Host == "" {
			return nil, fmt.Errorf("device host is required")
		}
		port := cfg.HTTPPort
		if port == 0 {
			port = 80
		}
		baseURL = "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	auth := strings.ToLower(cfg.Auth)
	if auth == "" {
		auth = AuthDigest
	}
	if auth != AuthDigest && auth != AuthBasic {
		return nil, fmt.Errorf("unsupported auth scheme: %s", cfg.Auth)
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}

	var transport http.RoundTripper = base
	if auth == AuthDigest && cfg.Username != "" {
		transport = &digest.Transport{
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: base,
		}
	}

	return &Client{
		baseURL:  baseURL,
		username: cfg.Username,
		password: cfg.Password,
		auth:     auth,
		http:     &http.Client{Transport: transport, Timeout: timeout},
		stream:   &http.Client{Transport: transport},
	}, nil
}

// BaseURL returns the device base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	if c.auth == AuthBasic && c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// do sends a request and returns the response when the status is 2xx.
// Non-2xx responses are closed and reported as *StatusError.
func (c *Client) do(hc *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	return resp, nil
}

// Picture requests a still image from a streaming channel. The caller must
// close the returned body.
func (c *Client) Picture(ctx context.Context, channel int) (io.ReadCloser, error) {
	path := fmt.Sprintf("/ISAPI/Streaming/channels/%d/picture?type=opaque_data", channel)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	// The body is streamed by the caller, so the overall client timeout
	// must not apply once headers have arrived.
	resp, err := c.do(c.stream, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
