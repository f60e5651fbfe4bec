package discovery

import (
	"sync"
	"sync/atomic"
)

// Handler receives discovery events. Handlers may be called concurrently by
// different scans and must not block for long. Each handler gets its own
// copy of the payload and may keep or modify it.
type Handler func(DeviceInfoPackage)

type subscription struct {
	id      uint64
	handler Handler
}

// hub is a copy-on-write subscriber list: publishers read a snapshot without
// locking, subscribe and unsubscribe swap in a new slice.
type hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   atomic.Pointer[[]subscription]
}

func (h *hub) subscribe(handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	var current []subscription
	if p := h.subs.Load(); p != nil {
		current = *p
	}
	next := make([]subscription, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, subscription{id: id, handler: handler})
	h.subs.Store(&next)

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := h.subs.Load()
	if p == nil {
		return
	}
	next := make([]subscription, 0, len(*p))
	for _, s := range *p {
		if s.id != id {
			next = append(next, s)
		}
	}
	h.subs.Store(&next)
}

func (h *hub) publish(pkg DeviceInfoPackage) {
	p := h.subs.Load()
	if p == nil {
		return
	}
	for _, s := range *p {
		s.handler(pkg.clone())
	}
}

func (h *hub) len() int {
	p := h.subs.Load()
	if p == nil {
		return 0
	}
	return len(*p)
}
