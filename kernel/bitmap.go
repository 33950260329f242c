package kernel

import "math/bits"

// MaxPriorities is the largest supported priority domain: 32 groups of 32.
const MaxPriorities = 32 * 32

// prioBitmap mirrors which ready lists are non-empty. Bit p of leaf[p/32] is
// set when priority p has a ready task; bit g of group is set when leaf[g] is
// non-zero. With 32 or fewer priorities there is a single leaf.
type prioBitmap struct {
	group uint32
	leaf  []uint32
}

func newPrioBitmap(n int) prioBitmap {
	return prioBitmap{leaf: make([]uint32, (n+31)/32)}
}

func (b *prioBitmap) set(p Priority) {
	w := p >> 5
	b.leaf[w] |= 1 << (p & 31)
	b.group |= 1 << w
}

func (b *prioBitmap) clear(p Priority) {
	w := p >> 5
	b.leaf[w] &^= 1 << (p & 31)
	if b.leaf[w] == 0 {
		b.group &^= 1 << w
	}
}

func (b *prioBitmap) isSet(p Priority) bool {
	return b.leaf[p>>5]&(1<<(p&31)) != 0
}

// first returns the most urgent (numerically lowest) set priority.
func (b *prioBitmap) first() (Priority, bool) {
	if b.group == 0 {
		return 0, false
	}
	g := bits.TrailingZeros32(b.group)
	return Priority(g<<5 | bits.TrailingZeros32(b.leaf[g])), true
}
