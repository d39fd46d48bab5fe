package spanpipe

import "sync"

// idPool holds pre-generated span identifiers to amortize crypto/rand
// overhead on the span-start path.
type idPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

func newIDPool(capacity int, factory func() string) *idPool {
	pool := &idPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// get returns a pooled ID, generating one directly under burst load.
func (p *idPool) get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

// refill keeps the pool topped up in the background.
func (p *idPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		default:
			select {
			case p.ids <- p.factory():
			case <-p.stopCh:
				return
			}
		}
	}
}

func (p *idPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}
