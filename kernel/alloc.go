package kernel

// Allocator is the heap collaborator. Alloc returns nil when the request
// cannot be satisfied; the kernel reports that as ErrNoMemory.
type Allocator interface {
	Alloc(size int) []byte
	Free(b []byte)
}

// Control block sizes charged to the allocator for dynamically created
// objects, so a bounded heap can run out of them as on a target.
const (
	taskControlSize  = 128
	timerControlSize = 64
	mutexControlSize = 48
	mboxControlSize  = 32
)

type goAllocator struct{}

func (goAllocator) Alloc(size int) []byte { return make([]byte, size) }

func (goAllocator) Free([]byte) {}
