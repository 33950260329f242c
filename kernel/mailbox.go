package kernel

import "github.com/cockroachdb/errors"

// MaxMessageBytes is the maximum payload size for mailbox messages.
const MaxMessageBytes = 64

// Message is a fixed-size message envelope.
type Message struct {
	Kind uint16
	Len  uint16
	Data [MaxMessageBytes]byte
}

// NewMessage builds a message, truncating payload to MaxMessageBytes.
func NewMessage(kind uint16, payload []byte) Message {
	msg := Message{Kind: kind}
	msg.Len = uint16(copy(msg.Data[:], payload))
	return msg
}

// Payload returns the used part of Data.
func (m *Message) Payload() []byte { return m.Data[:m.Len] }

// Mailbox is a fixed-size queue of messages. Posting never blocks and is
// safe from interrupt context; fetching blocks the caller through a wait
// list.
type Mailbox struct {
	_ [0]func() // prevent accidental copying.

	k       *Kernel
	name    string
	head    uint32
	tail    uint32
	slots   []Message
	waiters WaitList
	policy  WaitPolicy
	deleted bool
	mem     []byte
}

// NewMailbox creates a mailbox holding up to slots messages.
func (k *Kernel) NewMailbox(name string, slots int, policy WaitPolicy) (*Mailbox, error) {
	if slots <= 0 {
		return nil, errors.Newf("mailbox %q: %d slots", name, slots)
	}
	mem := k.alloc.Alloc(mboxControlSize + slots*MaxMessageBytes)
	if mem == nil {
		return nil, errors.Wrapf(ErrNoMemory, "mailbox %q", name)
	}
	return &Mailbox{
		k:      k,
		name:   name,
		slots:  make([]Message, slots),
		policy: policy,
		mem:    mem,
	}, nil
}

// Name returns the mailbox name.
func (mb *Mailbox) Name() string { return mb.name }

// Post enqueues msg, or hands it straight to the first waiting fetcher.
// It returns ErrFull when no slot is free.
func (mb *Mailbox) Post(msg Message) error {
	k := mb.k
	c := k.enterISR()
	c.assertf(!mb.deleted, "mailbox %s used after delete", mb.name)
	if t := mb.waiters.list.front(); t != nil {
		t.mailboxSlot = msg
		k.resolve(c, t, WaitOK)
		k.reschedule(c)
		c.exit()
		return nil
	}
	if mb.head-mb.tail >= uint32(len(mb.slots)) {
		c.release()
		return ErrFull
	}
	mb.slots[mb.head%uint32(len(mb.slots))] = msg
	mb.head++
	c.release()
	return nil
}

// TryFetch dequeues one message without blocking. It returns ErrEmpty when
// the mailbox is empty.
func (mb *Mailbox) TryFetch() (Message, error) {
	c := mb.k.enterISR()
	c.assertf(!mb.deleted, "mailbox %s used after delete", mb.name)
	msg, ok := mb.pop()
	c.release()
	if !ok {
		return Message{}, ErrEmpty
	}
	return msg, nil
}

// Fetch dequeues one message, waiting up to timeout ticks for one to be
// posted. NoWait behaves like TryFetch.
func (mb *Mailbox) Fetch(ctx *Context, timeout uint64) (Message, error) {
	k := mb.k
	c := ctx.running("fetch " + mb.name)
	c.assertf(!mb.deleted, "mailbox %s used after delete", mb.name)
	if msg, ok := mb.pop(); ok {
		c.exit()
		return msg, nil
	}
	if timeout == NoWait {
		c.release()
		return Message{}, ErrEmpty
	}
	if k.schedLock > 0 {
		c.release()
		return Message{}, ErrSchedLocked
	}
	k.block(c, ctx.t, &mb.waiters, timeout, mb.policy)
	k.reschedule(c)
	c.exit()
	if err := ctx.waitResult(); err != nil {
		return Message{}, err
	}
	return ctx.t.mailboxSlot, nil
}

// Received returns the message handed to a fetcher whose simulated wait
// resolved. It consumes the wait result like Context.Result.
func (mb *Mailbox) Received(ctx *Context) (Message, error) {
	if err := ctx.Result(); err != nil {
		return Message{}, err
	}
	return ctx.t.mailboxSlot, nil
}

func (mb *Mailbox) pop() (Message, bool) {
	if mb.tail == mb.head {
		return Message{}, false
	}
	msg := mb.slots[mb.tail%uint32(len(mb.slots))]
	mb.tail++
	return msg, true
}

// Len returns the number of queued messages.
func (mb *Mailbox) Len() int {
	mb.k.mu.Lock()
	defer mb.k.mu.Unlock()
	return int(mb.head - mb.tail)
}

// Waiters returns the number of blocked fetchers.
func (mb *Mailbox) Waiters() int {
	mb.k.mu.Lock()
	defer mb.k.mu.Unlock()
	return mb.waiters.Len()
}

// Delete fails every waiting fetcher with ErrDeleted and drops queued
// messages.
func (mb *Mailbox) Delete() error {
	k := mb.k
	c := k.enterISR()
	c.assertf(!mb.deleted, "mailbox %s deleted twice", mb.name)
	n := k.cancelAll(c, &mb.waiters, WaitDeleted)
	mb.deleted = true
	mb.head, mb.tail = 0, 0
	k.alloc.Free(mb.mem)
	mb.mem = nil
	if n > 0 {
		k.reschedule(c)
	}
	c.exit()
	return nil
}
