// Package bvlapi fetches regulatory dataset collections from the remote
// publication API, following pagination links until a collection is complete.
package bvlapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Kind classifies a fetch failure coarsely enough for retry and display
// decisions without string matching on the caller side.
type Kind string

const (
	KindTimeout  Kind = "timeout"
	KindNetwork  Kind = "network"
	KindNotFound Kind = "notfound"
	KindServer   Kind = "server"
	KindUnknown  Kind = "unknown"
)

// Error wraps a fetch failure with its classification and the endpoint that
// produced it.
type Error struct {
	Kind     Kind
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// page is the envelope shape the API serves for paginated collections. Small
// collections may instead arrive as a bare JSON array, which ends pagination
// immediately.
type page struct {
	Items      []map[string]any `json:"items"`
	Links      []pageLink       `json:"links"`
	Generation string           `json:"generation"`
}

type pageLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// Client pulls dataset collections over HTTP with shared request pacing.
type Client struct {
	baseURL *url.URL
	hc      *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger
}

// New builds a client for the given base URL. rps bounds total outgoing
// requests per second across all collections; timeout caps each single
// request, not a whole collection.
func New(baseURL string, timeout time.Duration, rps float64, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing scheme or host", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if rps <= 0 {
		rps = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: u,
		hc:      &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		timeout: timeout,
		log:     log,
	}, nil
}

// FetchCollection downloads every page of one collection and returns the
// concatenated records plus the dataset generation tag, when the API reports
// one. Page order matches link order.
func (c *Client) FetchCollection(ctx context.Context, name string) ([]map[string]any, string, error) {
	next, err := c.baseURL.Parse(name)
	if err != nil {
		return nil, "", &Error{Kind: KindUnknown, Endpoint: name, Err: err}
	}

	var items []map[string]any
	var generation string
	for pageNo := 0; next != nil; pageNo++ {
		endpoint := next.String()
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", &Error{Kind: classify(err, 0), Endpoint: endpoint, Err: err}
		}
		body, status, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, "", &Error{Kind: classify(err, status), Endpoint: endpoint, Err: err}
		}

		pageItems, nextHref, gen, err := decodePage(body)
		if err != nil {
			return nil, "", &Error{Kind: KindUnknown, Endpoint: endpoint, Err: err}
		}
		items = append(items, pageItems...)
		if gen != "" {
			generation = gen
		}
		c.log.Debug("fetched page",
			"collection", name, "page", pageNo, "items", len(pageItems))

		if nextHref == "" {
			break
		}
		ref, err := url.Parse(nextHref)
		if err != nil {
			return nil, "", &Error{Kind: KindUnknown, Endpoint: endpoint,
				Err: fmt.Errorf("next link %q: %w", nextHref, err)}
		}
		next = next.ResolveReference(ref)
	}
	return items, generation, nil
}

// get performs one rate-limited request under the per-request timeout and
// returns the body. A non-2xx status comes back as an error alongside the
// status code for classification.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return body, resp.StatusCode, nil
}

// decodePage handles both response shapes: the paginated envelope and a bare
// array, which carries no links and therefore ends the collection.
func decodePage(body []byte) (items []map[string]any, nextHref, generation string, err error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, "", "", fmt.Errorf("decode array page: %w", err)
		}
		return items, "", "", nil
	}
	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, "", "", fmt.Errorf("decode page: %w", err)
	}
	for _, l := range p.Links {
		if l.Rel == "next" && l.Href != "" {
			nextHref = l.Href
			break
		}
	}
	return p.Items, nextHref, p.Generation, nil
}

func classify(err error, status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServer
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindNetwork
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return KindNetwork
	}
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "connection refused") ||
			strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "connection reset") {
			return KindNetwork
		}
	}
	return KindUnknown
}
