// Package session models the stateful browsing resource some portals need
// (cookie consent, login, server-side search state). A session is acquired
// per portal task and released on every exit path; it is never shared by two
// concurrent tasks.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// Session is a scoped HTTP browsing context.
type Session interface {
	Client() *http.Client
	Close() error
}

// Pool hands out sessions, bounded by the number of remote browser slots.
type Pool struct {
	slots          chan struct{}
	requestTimeout time.Duration
	transport      http.RoundTripper
}

// NewPool returns a pool with size concurrent slots.
func NewPool(size int, requestTimeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		slots:          make(chan struct{}, size),
		requestTimeout: requestTimeout,
		transport:      http.DefaultTransport,
	}
}

// WithTransport overrides the round tripper used by new sessions.
func (p *Pool) WithTransport(rt http.RoundTripper) *Pool {
	p.transport = rt
	return p
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session: %w", ctx.Err())
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	return &pooled{
		pool: p,
		client: &http.Client{
			Timeout:   p.requestTimeout,
			Jar:       jar,
			Transport: p.transport,
		},
	}, nil
}

// InUse returns the number of sessions currently held.
func (p *Pool) InUse() int { return len(p.slots) }

type pooled struct {
	pool   *Pool
	client *http.Client
	once   sync.Once
}

func (s *pooled) Client() *http.Client { return s.client }

// Close releases the slot. Calling it more than once is harmless.
func (s *pooled) Close() error {
	s.once.Do(func() {
		s.client.CloseIdleConnections()
		<-s.pool.slots
	})
	return nil
}

// Shared wraps a long-lived client for extractors that keep no state between
// requests. Close is a no-op.
func Shared(client *http.Client) Session { return shared{client: client} }

type shared struct{ client *http.Client }

func (s shared) Client() *http.Client { return s.client }
func (s shared) Close() error         { return nil }
