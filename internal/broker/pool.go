package broker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("broker pool is closed")

// Pool is a bounded pool of broker clients. At most size connections
// exist at once; Get blocks while all of them are borrowed. Connections
// are opened lazily; broken clients are discarded on return rather than
// reused.
type Pool struct {
	dial  func() (*Client, error)
	slots chan struct{}

	mu     sync.Mutex
	idle   []*Client
	closed bool
}

// NewPool creates a pool of up to size clients for the given AMQP URL.
func NewPool(url string, size int, dialTimeout time.Duration) *Pool {
	if size <= 0 {
		size = 5
	}
	return &Pool{
		dial:  func() (*Client, error) { return Dial(url, dialTimeout) },
		slots: make(chan struct{}, size),
	}
}

// Get borrows a client, dialing a new one when the idle list is empty.
// It blocks until a slot frees or ctx is done.
func (p *Pool) Get(ctx context.Context) (*Client, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if c.Broken() {
			c.Close()
			continue
		}
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.dial()
	if err != nil {
		<-p.slots
		return nil, err
	}
	return c, nil
}

// Put returns a borrowed client and frees its slot. Broken clients and
// returns after Close are closed instead of pooled.
func (p *Pool) Put(c *Client) {
	if c == nil {
		return
	}
	defer func() { <-p.slots }()
	p.mu.Lock()
	if p.closed || c.Broken() {
		p.mu.Unlock()
		c.Close()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// With borrows a client, runs fn, and guarantees the client is returned.
func (p *Pool) With(ctx context.Context, fn func(*Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(c)
	return fn(c)
}

// PublishTo borrows a client, declares the queue and publishes one
// persistent message at the given priority.
func (p *Pool) PublishTo(ctx context.Context, queue string, maxPriority int, body []byte, priority uint8) error {
	return p.With(ctx, func(c *Client) error {
		if err := c.DeclareQueue(queue, maxPriority); err != nil {
			return err
		}
		return c.Publish(ctx, queue, body, priority)
	})
}

// Close drains and closes all idle clients. Borrowed clients are closed
// as they come back.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, c := range idle {
		c.Close()
	}
}
