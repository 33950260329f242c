package kernel

import (
	"runtime"
	"sync"
)

// HostPort runs each task on its own goroutine. A one-slot gate per task
// makes sure only the dispatched task's goroutine is executing task code.
type HostPort struct {
	wg sync.WaitGroup
}

// NewHostPort returns a goroutine-backed port.
func NewHostPort() *HostPort {
	return &HostPort{}
}

// Spawn implements Port.
func (p *HostPort) Spawn(entry func(), _ []byte) (Continuation, error) {
	g := &gate{
		run:  make(chan struct{}, 1),
		kill: make(chan struct{}),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !g.Park() {
			return
		}
		entry()
	}()
	return g, nil
}

// Wait blocks until every spawned goroutine has unwound.
func (p *HostPort) Wait() {
	p.wg.Wait()
}

type gate struct {
	run      chan struct{}
	kill     chan struct{}
	killOnce sync.Once
}

func (g *gate) Resume() {
	select {
	case g.run <- struct{}{}:
	default:
	}
}

func (g *gate) Park() bool {
	select {
	case <-g.run:
		select {
		case <-g.kill:
			return false
		default:
			return true
		}
	case <-g.kill:
		return false
	}
}

func (g *gate) Kill() {
	g.killOnce.Do(func() { close(g.kill) })
}

var _ Port = (*HostPort)(nil)

// Checkpoint is a preemption point for host tasks that compute without
// calling into the kernel. On a target the tick interrupt preempts directly.
func (ctx *Context) Checkpoint() {
	c := ctx.k.enter(ctx.t)
	c.exit()
	runtime.Gosched()
}
