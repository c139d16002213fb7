// Package remotetest provides a scripted in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/unkn0wn-root/optcache/remote"
)

var ErrNoHandler = errors.New("remotetest: no handler")

// Handler answers one request. The returned value is JSON round-tripped into
// the caller's out, like a real transport would.
type Handler func(ctx context.Context, req remote.Request) (any, error)

type Client struct {
	mu       sync.Mutex
	handlers map[string]Handler
	gates    map[string][]*Gate
	calls    []remote.Request
}

var _ remote.Client = (*Client)(nil)

func New() *Client {
	return &Client{
		handlers: make(map[string]Handler),
		gates:    make(map[string][]*Gate),
	}
}

func key(entity string, op remote.Op) string { return entity + "." + string(op) }

// On installs h for entity/op, replacing any previous handler.
func (c *Client) On(entity string, op remote.Op, h Handler) *Client {
	c.mu.Lock()
	c.handlers[key(entity, op)] = h
	c.mu.Unlock()
	return c
}

// Respond always answers entity/op with v.
func (c *Client) Respond(entity string, op remote.Op, v any) *Client {
	return c.On(entity, op, func(context.Context, remote.Request) (any, error) { return v, nil })
}

// Fail always answers entity/op with err.
func (c *Client) Fail(entity string, op remote.Op, err error) *Client {
	return c.On(entity, op, func(context.Context, remote.Request) (any, error) { return nil, err })
}

// Gate holds one request until released.
type Gate struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

// Arrived is closed once the held request reached the client.
func (g *Gate) Arrived() <-chan struct{} { return g.arrived }

// Release lets the held request reach its handler.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

// Hold queues a gate for the next request to entity/op. Several gates queue
// up and are taken in call order.
func (c *Client) Hold(entity string, op remote.Op) *Gate {
	g := &Gate{arrived: make(chan struct{}), release: make(chan struct{})}
	k := key(entity, op)
	c.mu.Lock()
	c.gates[k] = append(c.gates[k], g)
	c.mu.Unlock()
	return g
}

// Calls returns every request seen so far.
func (c *Client) Calls() []remote.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]remote.Request(nil), c.calls...)
}

func (c *Client) Request(ctx context.Context, req remote.Request, out any) error {
	k := key(req.Entity, req.Op)

	c.mu.Lock()
	c.calls = append(c.calls, req)
	h := c.handlers[k]
	var g *Gate
	if q := c.gates[k]; len(q) > 0 {
		g, c.gates[k] = q[0], q[1:]
	}
	c.mu.Unlock()

	if g != nil {
		close(g.arrived)
		select {
		case <-g.release:
		case <-ctx.Done():
			return &remote.NetworkError{Op: req.String(), Err: ctx.Err()}
		}
	}

	if h == nil {
		return &remote.NetworkError{Op: req.String(), Err: fmt.Errorf("%w for %s", ErrNoHandler, k)}
	}
	v, err := h(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("remotetest: encode %s: %w", k, err)
	}
	return json.Unmarshal(b, out)
}
