// Package connection provides a thread-safe TCP connection pool that keeps a
// bounded set of reusable connections per remote address. The bench client
// uses it to spread line protocol requests over a few long-lived connections.
package connection

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("connection pool is closed")

// PooledConn is a wrapper around net.Conn that includes a reference to the
// pool it belongs to, plus a buffered reader that survives reuse.
type PooledConn struct {
	net.Conn
	Reader *bufio.Reader
	pool   *hostPool
}

// Close returns the connection to the pool. It doesn't actually close the
// underlying TCP connection. To force-close, use ForceClose().
func (c *PooledConn) Close() error {
	if c.pool == nil {
		return errors.New("connection is already closed or detached from pool")
	}
	p := c.pool
	c.pool = nil
	p.put(&PooledConn{Conn: c.Conn, Reader: c.Reader, pool: p})
	return nil
}

// ForceClose closes the underlying TCP connection permanently and frees its
// slot in the pool. Use it after an I/O error.
func (c *PooledConn) ForceClose() error {
	if c.pool != nil {
		c.pool.release()
		c.pool = nil
	}
	return c.Conn.Close()
}

// hostPool manages the connections for a single remote address.
type hostPool struct {
	idle    chan *PooledConn
	slots   chan struct{} // one token per open connection
	dial    func(ctx context.Context) (net.Conn, error)
	address string

	mu     sync.Mutex
	closed bool
}

// ConnectionPoolManager manages one hostPool per remote address.
type ConnectionPoolManager struct {
	mu      sync.RWMutex
	pools   map[string]*hostPool
	maxSize int
	timeout time.Duration
	closed  bool
}

// NewConnectionPoolManager creates a new manager for connection pools.
// maxSize is the maximum number of open connections per address.
// timeout bounds establishing a new connection.
func NewConnectionPoolManager(maxSize int, timeout time.Duration) *ConnectionPoolManager {
	if maxSize < 1 {
		maxSize = 1
	}
	return &ConnectionPoolManager{
		pools:   make(map[string]*hostPool),
		maxSize: maxSize,
		timeout: timeout,
	}
}

// Get retrieves a connection for address, dialing a new one while under the
// size limit and otherwise waiting for one to be returned or for ctx to end.
func (m *ConnectionPoolManager) Get(ctx context.Context, address string) (*PooledConn, error) {
	m.mu.RLock()
	pool, ok := m.pools[address]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	if !ok {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrPoolClosed
		}
		// Double-check after acquiring write lock
		pool, ok = m.pools[address]
		if !ok {
			dialer := &net.Dialer{Timeout: m.timeout}
			pool = &hostPool{
				idle:    make(chan *PooledConn, m.maxSize),
				slots:   make(chan struct{}, m.maxSize),
				address: address,
				dial: func(ctx context.Context) (net.Conn, error) {
					return dialer.DialContext(ctx, "tcp", address)
				},
			}
			m.pools[address] = pool
		}
		m.mu.Unlock()
	}
	return pool.get(ctx)
}

func (p *hostPool) get(ctx context.Context) (*PooledConn, error) {
	select {
	case c := <-p.idle:
		return c, nil
	default:
	}

	select {
	case c := <-p.idle:
		return c, nil
	case p.slots <- struct{}{}:
		conn, err := p.dial(ctx)
		if err != nil {
			<-p.slots
			return nil, errors.Wrapf(err, "dialing %s", p.address)
		}
		return &PooledConn{Conn: conn, Reader: bufio.NewReader(conn), pool: p}, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for a connection to %s", p.address)
	}
}

func (p *hostPool) put(c *PooledConn) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		select {
		case p.idle <- c:
			return
		default:
		}
	}
	c.Conn.Close()
	p.release()
}

func (p *hostPool) release() {
	select {
	case <-p.slots:
	default:
	}
}

// close shuts the idle connections of this pool. Connections still checked
// out are closed when they are returned.
func (p *hostPool) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case c := <-p.idle:
			c.Conn.Close()
			p.release()
		default:
			return
		}
	}
}

// Close shuts down the entire connection pool manager.
func (m *ConnectionPoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, pool := range m.pools {
		pool.close()
	}
	m.pools = make(map[string]*hostPool)
}
