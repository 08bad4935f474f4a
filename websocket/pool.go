package websocket

import (
	"sync"
)

// Pool manages a set of outbound client connections opened with New,
// giving callers a single point to fan a message out to many servers at
// once. Unlike a server-side hub, a Pool never accepts connections: every
// member is dialed by this process.
//
// Thread-safe operations allow concurrent registration, removal, and
// broadcasting from multiple goroutines.
type Pool struct {
	members map[*WebSocket]bool

	register   chan *WebSocket
	unregister chan *WebSocket
	broadcast  chan poolMessage

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	mu sync.RWMutex
}

type poolMessage struct {
	text bool
	data []byte
}

// NewPool creates a new, empty Pool. Run must be started in a goroutine
// before Register/Broadcast have any effect.
func NewPool() *Pool {
	return &Pool{
		members:    make(map[*WebSocket]bool),
		register:   make(chan *WebSocket),
		unregister: make(chan *WebSocket),
		broadcast:  make(chan poolMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the Pool's event loop and blocks until Close is called.
func (p *Pool) Run() {
	p.wg.Add(1)
	defer p.wg.Done()

	for {
		select {
		case ws, ok := <-p.register:
			if !ok {
				return
			}
			p.mu.Lock()
			p.members[ws] = true
			p.mu.Unlock()

		case ws, ok := <-p.unregister:
			if !ok {
				return
			}
			p.mu.Lock()
			if _, ok := p.members[ws]; ok {
				delete(p.members, ws)
			}
			p.mu.Unlock()

		case msg, ok := <-p.broadcast:
			if !ok {
				return
			}
			p.mu.RLock()
			for ws := range p.members {
				go func(ws *WebSocket, msg poolMessage) {
					var err error
					if msg.text {
						err = ws.WriteText(string(msg.data))
					} else {
						err = ws.WriteBinary(msg.data)
					}
					if err != nil {
						p.Unregister(ws)
					}
				}(ws, msg)
			}
			p.mu.RUnlock()

		case <-p.done:
			return
		}
	}
}

// Register adds an already-Open connection to the pool so it receives
// subsequent Broadcast/BroadcastText calls.
func (p *Pool) Register(ws *WebSocket) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	p.mu.RUnlock()

	p.register <- ws
}

// Unregister removes ws from the pool. It does not disconnect ws; callers
// that want the connection closed should call ws.Disconnect themselves.
func (p *Pool) Unregister(ws *WebSocket) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	p.mu.RUnlock()

	p.unregister <- ws
}

// Broadcast sends a binary message to every member connection.
// Non-blocking: queues the message and returns immediately.
func (p *Pool) Broadcast(data []byte) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	p.mu.RUnlock()

	p.broadcast <- poolMessage{data: data}
}

// BroadcastText sends a text message to every member connection.
func (p *Pool) BroadcastText(text string) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	p.mu.RUnlock()

	p.broadcast <- poolMessage{text: true, data: []byte(text)}
}

// MemberCount returns the number of connections currently registered.
func (p *Pool) MemberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// Close stops the Pool's event loop and disconnects every registered
// member. Safe to call multiple times.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	p.mu.Lock()
	for ws := range p.members {
		_ = ws.Disconnect(0)
	}
	p.members = make(map[*WebSocket]bool)
	p.mu.Unlock()

	close(p.register)
	close(p.unregister)
	close(p.broadcast)

	return nil
}
