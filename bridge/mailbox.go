package bridge

import "sync"

// mailbox serializes delivery of one stream's messages on its own goroutine.
// The queue is unbounded: a slow callback delays later messages but never
// blocks the transport's reader.
type mailbox struct {
	handle func([]byte)

	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox(handle func([]byte)) *mailbox {
	m := &mailbox{
		handle: handle,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) push(data []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, data)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		for {
			select {
			case <-m.done:
				return
			default:
			}
			m.mu.Lock()
			if len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			data := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			m.handle(data)
		}
	}
}

// close stops the goroutine without waiting for it, so it is safe to call
// from inside a callback the mailbox is running. Queued messages are dropped.
func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
