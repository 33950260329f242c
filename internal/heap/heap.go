// Package heap is a fixed-arena best-fit allocator. It gives the kernel a
// bounded heap that runs out the way a target's does.
package heap

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Alignment is the granularity of every allocation.
const Alignment = 16

// segment is one contiguous run of the arena. Segments are kept in address
// order so neighbours can be merged on free.
type segment struct {
	next, prev *segment
	off, size  int
	allocated  bool
}

// Stats describe arena usage.
type Stats struct {
	Size     int
	Used     int
	Peak     int
	Allocs   uint64
	Frees    uint64
	Failures uint64
	Segments int
}

// Heap hands out slices of one arena.
type Heap struct {
	mu    sync.Mutex
	arena []byte
	head  *segment
	live  map[*byte]*segment
	stats Stats
}

// New returns a heap managing size bytes, rounded down to Alignment.
func New(size int) (*Heap, error) {
	size -= size % Alignment
	if size <= 0 {
		return nil, errors.Newf("heap: size %d too small", size)
	}
	h := &Heap{
		arena: make([]byte, size),
		live:  make(map[*byte]*segment),
	}
	h.head = &segment{size: size}
	h.stats.Size = size
	h.stats.Segments = 1
	return h, nil
}

func align(n int) int {
	if n <= 0 {
		return Alignment
	}
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Alloc returns a zeroed slice of size bytes, or nil when no free segment
// is large enough.
func (h *Heap) Alloc(size int) []byte {
	want := align(size)
	h.mu.Lock()
	defer h.mu.Unlock()

	var best *segment
	for s := h.head; s != nil; s = s.next {
		if s.allocated || s.size < want {
			continue
		}
		if best == nil || s.size < best.size {
			best = s
		}
	}
	if best == nil {
		h.stats.Failures++
		return nil
	}
	if best.size-want >= Alignment {
		rest := &segment{
			next: best.next,
			prev: best,
			off:  best.off + want,
			size: best.size - want,
		}
		if best.next != nil {
			best.next.prev = rest
		}
		best.next = rest
		best.size = want
		h.stats.Segments++
	}
	best.allocated = true

	b := h.arena[best.off : best.off+best.size : best.off+best.size]
	clear(b)
	h.live[&b[0]] = best
	h.stats.Allocs++
	h.stats.Used += best.size
	if h.stats.Used > h.stats.Peak {
		h.stats.Peak = h.stats.Used
	}
	return b[:size:best.size]
}

// Free returns b to the arena. b must have come from Alloc on h; freeing
// anything else panics.
func (h *Heap) Free(b []byte) {
	if cap(b) == 0 {
		panic(errors.AssertionFailedf("heap: free of empty slice"))
	}
	key := &b[:1][0]
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.live[key]
	if !ok {
		panic(errors.AssertionFailedf("heap: free of foreign or freed block"))
	}
	delete(h.live, key)
	s.allocated = false
	h.stats.Frees++
	h.stats.Used -= s.size

	if n := s.next; n != nil && !n.allocated {
		h.merge(s, n)
	}
	if p := s.prev; p != nil && !p.allocated {
		h.merge(p, s)
	}
}

// merge folds b into a, its free lower neighbour.
func (h *Heap) merge(a, b *segment) {
	a.size += b.size
	a.next = b.next
	if b.next != nil {
		b.next.prev = a
	}
	h.stats.Segments--
}

// Stats returns a usage snapshot.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Available returns the size of the largest free segment.
func (h *Heap) Available() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for s := h.head; s != nil; s = s.next {
		if !s.allocated && s.size > n {
			n = s.size
		}
	}
	return n
}
