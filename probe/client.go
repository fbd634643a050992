// Copyright 2024 The chaos-utils Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// StatusError is a non-200 answer from the monitoring API. The raw body
// is carried along for diagnostics.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("monitoring API returned HTTP %d: %s", e.Code, e.Body)
}

// Client issues instant PromQL queries against the Cloud Monitoring API
// for a single project.
type Client struct {
	endpoint string
	project  string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient builds a client that authenticates every request with the
// given bearer token and enforces the configured request timeout.
func NewClient(cfg *Config, token Secret, logger *slog.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		project:  cfg.ProjectID,
		client: &http.Client{
			Transport: newBearerRoundTripper(token, http.DefaultTransport),
			Timeout:   time.Duration(cfg.Timeout) * time.Second,
		},
		logger: logger,
	}
}

// Query performs the single instant query. The evaluation instant is the
// current wall clock; the window start is computed for diagnostics only,
// instant queries carry just the end time.
func (c *Client) Query(ctx context.Context, query string, window time.Duration) ([]byte, error) {
	end := time.Now().Unix()
	start := end - int64(window/time.Second)

	u := fmt.Sprintf("%s/v1/projects/%s/location/global/prometheus/api/v1/query?query=%s&time=%d",
		c.endpoint, c.project, escapeQuery(query), end)
	c.logger.Debug("querying monitoring API",
		"project", c.project, "start", start, "end", end, "url", u)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building monitoring API request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitoring API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := spoolBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading monitoring API response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// spoolBody drains the response through a scratch file before handing the
// bytes back. The file is removed on every return path, including
// mid-copy failures and cancellation.
func spoolBody(r io.Reader) ([]byte, error) {
	f, err := os.CreateTemp("", "metric-probe-*.json")
	if err != nil {
		return nil, err
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()
	if _, err := io.Copy(f, r); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// escapeQuery percent-encodes a PromQL expression for use in a URL query
// component. Unlike url.QueryEscape it emits %20 for spaces: only
// alphanumerics and -_.~ pass through unencoded.
func escapeQuery(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

type bearerRoundTripper struct {
	token Secret
	rt    http.RoundTripper
}

// newBearerRoundTripper sets the Authorization header on each request
// unless one is already present.
func newBearerRoundTripper(token Secret, rt http.RoundTripper) http.RoundTripper {
	return &bearerRoundTripper{token, rt}
}

func (rt *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(req.Header.Get("Authorization")) == 0 {
		req = cloneRequest(req)
		req.Header.Set("Authorization", "Bearer "+string(rt.token))
	}
	return rt.rt.RoundTrip(req)
}

// cloneRequest returns a shallow copy of req with a deep copy of the
// headers, so the caller's request is never mutated.
func cloneRequest(r *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header))
	for k, s := range r.Header {
		r2.Header[k] = append([]string(nil), s...)
	}
	return r2
}
