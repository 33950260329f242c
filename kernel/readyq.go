package kernel

// readyQueue holds every task eligible to run, one FIFO list per priority.
// The running task stays at the head of its list.
type readyQueue struct {
	lists   []taskList
	bits    prioBitmap
	highest Priority
	n       int
}

func newReadyQueue(priorities int) readyQueue {
	rq := readyQueue{
		lists: make([]taskList, priorities),
		bits:  newPrioBitmap(priorities),
	}
	for i := range rq.lists {
		rq.lists[i].init(runField, kindReady)
	}
	rq.highest = Priority(priorities)
	return rq
}

func (rq *readyQueue) checkFree(c *cs, t *Task) {
	c.assertf(t.links[runField].owner == nil, "task %s already on a run list", t.name)
	c.assertf(t.links[tickField].owner == nil, "task %s readied while in a tick bucket", t.name)
}

// put appends t to its priority level.
func (rq *readyQueue) put(c *cs, t *Task) {
	rq.checkFree(c, t)
	rq.lists[t.prio].pushBack(t)
	rq.added(t.prio)
}

// putHead inserts t in front of its priority level.
func (rq *readyQueue) putHead(c *cs, t *Task) {
	rq.checkFree(c, t)
	rq.lists[t.prio].pushFront(t)
	rq.added(t.prio)
}

func (rq *readyQueue) added(p Priority) {
	rq.bits.set(p)
	rq.n++
	if p < rq.highest {
		rq.highest = p
	}
}

func (rq *readyQueue) remove(c *cs, t *Task) {
	l := &rq.lists[t.prio]
	c.assertf(l.contains(t), "task %s not on ready list %d", t.name, t.prio)
	l.remove(t)
	rq.n--
	if l.empty() {
		rq.bits.clear(t.prio)
		if t.prio == rq.highest {
			rq.recompute()
		}
	}
}

func (rq *readyQueue) recompute() {
	if p, ok := rq.bits.first(); ok {
		rq.highest = p
		return
	}
	rq.highest = Priority(len(rq.lists))
}

// moveToTail rotates t behind its equal-priority peers.
func (rq *readyQueue) moveToTail(c *cs, t *Task) {
	l := &rq.lists[t.prio]
	c.assertf(l.contains(t), "task %s not on ready list %d", t.name, t.prio)
	if l.tail == t {
		return
	}
	l.remove(t)
	l.pushBack(t)
}

func (rq *readyQueue) contains(t *Task) bool {
	return rq.lists[t.prio].contains(t)
}

// head returns the next task to dispatch, or nil when nothing is ready.
func (rq *readyQueue) head() *Task {
	if int(rq.highest) >= len(rq.lists) {
		return nil
	}
	return rq.lists[rq.highest].front()
}

// peers reports how many tasks share priority p.
func (rq *readyQueue) peers(p Priority) int {
	return rq.lists[p].len()
}
