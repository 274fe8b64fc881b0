package toolstream

import "sync"

// Chain orders tool calls. Each link's previous signal is the done signal
// of the link handed out before it; the first link waits on the root.
type Chain struct {
	mu   sync.Mutex
	tail <-chan struct{}
}

// NewChain starts a chain whose first link waits for root to close.
func NewChain(root <-chan struct{}) *Chain {
	return &Chain{tail: root}
}

// Link appends a link. The caller must call done exactly once; later calls
// are ignored.
func (c *Chain) Link() (previous <-chan struct{}, done func()) {
	ch := make(chan struct{})
	var once sync.Once

	c.mu.Lock()
	previous = c.tail
	c.tail = ch
	c.mu.Unlock()

	return previous, func() { once.Do(func() { close(ch) }) }
}

// Tail returns the signal that closes once every link so far is done.
func (c *Chain) Tail() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tail
}
