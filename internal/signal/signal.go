// Package signal is a small typed observer registry. Components own their
// signals as fields and collaborators connect handlers to them.
package signal

import "sync"

type slot[T any] struct {
	id int
	fn func(T)
}

// Signal delivers values of type T to connected handlers.
// The zero value is ready to use.
type Signal[T any] struct {
	mu    sync.Mutex
	next  int
	slots []slot[T]
}

// Connect registers fn and returns a function that disconnects it.
// Handlers run in connection order.
func (s *Signal[T]) Connect(fn func(T)) (disconnect func()) {
	s.mu.Lock()
	s.next++
	id := s.next
	s.slots = append(s.slots, slot[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Signal[T]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sl := range s.slots {
		if sl.id == id {
			s.slots = append(s.slots[:i:i], s.slots[i+1:]...)
			return
		}
	}
}

// Emit calls every handler synchronously with v. Handlers may connect or
// disconnect while an emission is in progress; the change applies to the
// next one.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := make([]slot[T], len(s.slots))
	copy(slots, s.slots)
	s.mu.Unlock()

	for _, sl := range slots {
		sl.fn(v)
	}
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

type subscriber[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func (sub *subscriber[T]) send(v T) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- v:
	default:
		// listener is behind; drop
	}
}

func (sub *subscriber[T]) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Subscribe returns a channel receiving emitted values. Sends never block:
// values are dropped while the buffer is full. cancel disconnects and
// closes the channel.
func (s *Signal[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber[T]{ch: make(chan T, buffer)}
	disconnect := s.Connect(sub.send)
	return sub.ch, func() {
		disconnect()
		sub.close()
	}
}
