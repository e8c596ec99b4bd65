package transport

import (
	"sync"
	"sync/atomic"
)

// Packet is a received datagram or frame tagged with its sender.
type Packet struct {
	From PeerID
	Data []byte
}

// Inbox is the mutex-guarded FIFO adapters push into and the engine polls.
// A limit of zero means unbounded; otherwise packets beyond it are dropped.
type Inbox struct {
	mu      sync.Mutex
	queue   []Packet
	head    int
	limit   int
	dropped atomic.Uint64
}

func NewInbox(limit int) *Inbox {
	return &Inbox{limit: limit}
}

// Push enqueues p, taking ownership of p.Data. It reports false when the
// packet was dropped because the inbox is full.
func (i *Inbox) Push(p Packet) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.limit > 0 && len(i.queue)-i.head >= i.limit {
		i.dropped.Add(1)
		return false
	}
	i.queue = append(i.queue, p)
	return true
}

func (i *Inbox) Peek() (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.head >= len(i.queue) {
		return 0, false
	}
	return len(i.queue[i.head].Data), true
}

// Pop copies the next packet into buf.
func (i *Inbox) Pop(buf []byte) (PeerID, int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.head >= len(i.queue) {
		return 0, 0, ErrNoPacket
	}
	p := i.queue[i.head]
	if len(buf) < len(p.Data) {
		return p.From, len(p.Data), ErrShortBuffer
	}

	n := copy(buf, p.Data)
	i.queue[i.head] = Packet{}
	i.head++
	if i.head == len(i.queue) {
		i.queue = i.queue[:0]
		i.head = 0
	} else if i.head > 64 && i.head*2 > len(i.queue) {
		i.queue = append(i.queue[:0], i.queue[i.head:]...)
		i.head = 0
	}
	return p.From, n, nil
}

func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queue) - i.head
}

func (i *Inbox) Dropped() uint64 {
	return i.dropped.Load()
}

// Reset discards every queued packet.
func (i *Inbox) Reset() {
	i.mu.Lock()
	i.queue = nil
	i.head = 0
	i.mu.Unlock()
}
