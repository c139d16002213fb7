// Package rest implements remote.Client over HTTP/JSON.
//
// Routing (path = Routes[entity] or entity+"s"; a route containing "{id}"
// takes the id in place instead of as a trailing segment):
//
//	create       POST   {base}/{path}
//	list         GET    {base}/{path}?query
//	get          GET    {base}/{path}/{id}   ({base}/{path} without id)
//	update       PUT    {base}/{path}/{id}
//	delete       DELETE {base}/{path}/{id}
//	bulk-delete  POST   {base}/{path}/bulk-delete
//	<action>     POST   {base}/{path}/{id}/{action}   ({base}/{path}/{action} without id)
//
// Status mapping:
//
//	2xx            success, body decoded into out
//	400, 422       *remote.ValidationError from {"errors": {field: [msg]}, "message": "..."}
//	404, 409, 412  *remote.ConflictError from {"message": "...", "details": {...}}
//	other 4xx      *remote.ValidationError with the message under ""
//	429, 5xx       *remote.NetworkError
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/optcache"
	"github.com/unkn0wn-root/optcache/remote"
)

const (
	defaultTimeout = 15 * time.Second
	defaultMaxBody = 4 << 20
)

var (
	ErrNoBaseURL = errors.New("rest: base URL is required")

	// ErrResponseTooLarge is returned, wrapped in a *remote.NetworkError,
	// for a body over Options.MaxResponseBytes. The body is never decoded.
	ErrResponseTooLarge = errors.New("rest: response too large")
)

// BreakerSettings tune the circuit breaker. Only network failures count
// against it; a validation or conflict answer proves the server is up.
type BreakerSettings struct {
	MaxRequests  uint32        // half-open trial requests; 0 => 1
	Interval     time.Duration // closed-state count reset; 0 => 1m
	Timeout      time.Duration // open -> half-open; 0 => 30s
	MinRequests  uint32        // 0 => 5
	FailureRatio float64       // 0 => 0.6
	Disabled     bool
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client  // nil => &http.Client{Timeout: Timeout}
	Timeout    time.Duration // 0 => 15s; ignored with HTTPClient
	Header     http.Header   // sent with every request (auth, user agent)

	// RatePerSecond limits outgoing requests; 0 => unlimited.
	RatePerSecond float64
	Burst         int // 0 => 1

	// MaxResponseBytes caps a response body; 0 => 4 MiB.
	MaxResponseBytes int64

	Breaker BreakerSettings
	Routes  map[string]string
	Logger  optcache.Logger
}

type Client struct {
	base    *url.URL
	http    *http.Client
	header  http.Header
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[struct{}]
	routes  map[string]string
	maxBody int64
	log     optcache.Logger
}

var _ remote.Client = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: base URL: %w", err)
	}

	c := &Client{
		base:    base,
		header:  opts.Header.Clone(),
		routes:  opts.Routes,
		maxBody: coalesce(opts.MaxResponseBytes, defaultMaxBody),
		log:     opts.Logger,
	}
	if c.log == nil {
		c.log = optcache.NopLogger{}
	}
	if opts.HTTPClient != nil {
		c.http = opts.HTTPClient
	} else {
		c.http = &http.Client{Timeout: coalesce(opts.Timeout, defaultTimeout)}
	}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), coalesce(opts.Burst, 1))
	}
	if !opts.Breaker.Disabled {
		c.cb = newBreaker(base.Host, opts.Breaker, c.log)
	}
	return c, nil
}

func newBreaker(name string, bs BreakerSettings, log optcache.Logger) *gobreaker.CircuitBreaker[struct{}] {
	minReq := coalesce(bs.MinRequests, 5)
	ratio := coalesce(bs.FailureRatio, 0.6)
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: coalesce(bs.MaxRequests, 1),
		Interval:    coalesce(bs.Interval, time.Minute),
		Timeout:     coalesce(bs.Timeout, 30*time.Second),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minReq {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		IsSuccessful: func(err error) bool {
			return remote.Classify(err) != remote.FailureNetwork
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", optcache.Fields{"name": name, "from": from.String(), "to": to.String()})
		},
	})
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (c *Client) Request(ctx context.Context, req remote.Request, out any) error {
	op := req.String()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &remote.NetworkError{Op: op, Err: err}
		}
	}
	if c.cb == nil {
		return c.do(ctx, req, out)
	}
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.do(ctx, req, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &remote.NetworkError{Op: op, Err: err}
	}
	return err
}

func (c *Client) path(entity string) string {
	if p, ok := c.routes[entity]; ok {
		return p
	}
	return entity + "s"
}

func (c *Client) route(req remote.Request) (method string, u *url.URL) {
	p := c.path(req.Entity)
	id := req.ID
	if strings.Contains(p, "{id}") {
		p = strings.ReplaceAll(p, "{id}", url.PathEscape(id))
		id = ""
	}
	segs := []string{p}
	switch req.Op {
	case remote.OpCreate:
		method = http.MethodPost
	case remote.OpList:
		method = http.MethodGet
	case remote.OpGet:
		method = http.MethodGet
		if id != "" {
			segs = append(segs, id)
		}
	case remote.OpUpdate:
		method = http.MethodPut
		segs = append(segs, id)
	case remote.OpDelete:
		method = http.MethodDelete
		segs = append(segs, id)
	default:
		method = http.MethodPost
		if id != "" {
			segs = append(segs, id)
		}
		segs = append(segs, string(req.Op))
	}

	u = c.base.JoinPath(segs...)
	if len(req.Query) > 0 {
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return method, u
}

func (c *Client) do(ctx context.Context, req remote.Request, out any) error {
	op := req.String()
	method, u := c.route(req)

	var body io.Reader
	if req.Payload != nil && method != http.MethodGet {
		b, err := json.Marshal(req.Payload)
		if err != nil {
			// not a transport problem, but nothing reached the server either
			return &remote.NetworkError{Op: op, Err: fmt.Errorf("encode payload: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	hr, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return &remote.NetworkError{Op: op, Err: err}
	}
	for k, vs := range c.header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	hr.Header.Set("Accept", "application/json")
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(hr)
	if err != nil {
		c.log.Debug("request failed", optcache.Fields{"op": op, "err": err})
		return &remote.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	// one byte past the cap tells a full body from a clipped one
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return &remote.NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(raw)) > c.maxBody {
		c.log.Warn("response over size cap", optcache.Fields{"op": op, "status": resp.StatusCode, "cap": c.maxBody})
		return &remote.NetworkError{Op: op, Err: fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody)}
	}
	c.log.Debug("request done", optcache.Fields{"op": op, "status": resp.StatusCode, "took": time.Since(start)})

	return decodeResponse(op, resp.StatusCode, raw, out)
}

type errorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
	Details map[string]any      `json:"details"`
}

func decodeResponse(op string, status int, raw []byte, out any) error {
	switch {
	case status >= 200 && status < 300:
		if out == nil || status == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &remote.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil

	case status == http.StatusTooManyRequests || status >= 500:
		return &remote.NetworkError{Op: op, Err: fmt.Errorf("status %d", status)}
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb) // best effort; a bare status still classifies

	switch status {
	case http.StatusConflict, http.StatusNotFound, http.StatusPreconditionFailed:
		msg := eb.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &remote.ConflictError{Message: msg, Details: eb.Details}
	}

	fields := eb.Errors
	if fields == nil {
		fields = map[string][]string{}
	}
	if eb.Message != "" && len(fields) == 0 {
		fields[""] = []string{eb.Message}
	}
	if len(fields) == 0 {
		fields[""] = []string{http.StatusText(status)}
	}
	return &remote.ValidationError{Fields: fields}
}
