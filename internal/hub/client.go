// Package hub is a small client for the Hugging Face Hub HTTP API covering
// what a publish run needs: listing and downloading repository files,
// creating repositories and committing files through Git LFS.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xupit3r/quantforge/internal/logging"
)

// DefaultEndpoint is the public Hugging Face Hub
const DefaultEndpoint = "https://huggingface.co"

// DefaultRevision is the branch files are read from and committed to
const DefaultRevision = "main"

// ProgressFunc is called during download to report progress
type ProgressFunc func(file string, downloaded, total int64, speed float64)

// Client talks to a Hub endpoint
type Client struct {
	Endpoint     string
	Client       *http.Client
	ProgressFunc ProgressFunc

	token string
	log   *logrus.Logger
}

// NewClient creates a client. token may be empty for public reads.
func NewClient(endpoint, token string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client: &http.Client{
			Timeout: 0, // No timeout for large transfers
		},
		token: token,
		log:   logging.Get(),
	}
}

// SetLogger replaces the client's logger
func (c *Client) SetLogger(log *logrus.Logger) {
	c.log = log
}

// RepoURL returns the canonical web location of a model repository
func (c *Client) RepoURL(repoID string) string {
	return c.Endpoint + "/" + repoID
}

func (c *Client) url(format string, args ...interface{}) string {
	return c.Endpoint + fmt.Sprintf(format, args...)
}

// escapePath escapes each segment of a slash separated path
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "quantforge")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and returns the response if its status is 2xx
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, newAPIError(req, resp)
	}
	return resp, nil
}

// doJSON sends in (if non-nil) as JSON and decodes the response into out
func (c *Client) doJSON(ctx context.Context, method, rawURL string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}
