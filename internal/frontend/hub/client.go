package hub

import (
	"errors"
	"sync"
)

// ErrClientClosed is returned when pushing to a closed client.
var ErrClientClosed = errors.New("client closed")

// ErrBufferFull is returned when a client is too slow to drain its outbox.
var ErrBufferFull = errors.New("client buffer full")

// Client is one viewer's outbound queue of encoded ops.
type Client struct {
	id     string
	events chan []byte
	mu     sync.Mutex
	closed bool
}

func newClient(id string, size int) *Client {
	return &Client{id: id, events: make(chan []byte, size)}
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.id
}

// Push queues data without blocking.
//
// Postcondition: Returns ErrBufferFull if the queue is full, or
// ErrClientClosed after Close.
func (c *Client) Push(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.events <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Events returns the channel of queued ops. It is closed by Close.
func (c *Client) Events() <-chan []byte {
	return c.events
}

// Close stops the client. Calling Close more than once is safe.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}
