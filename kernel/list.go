package kernel

// linkField selects which of a task's intrusive links a list threads through.
type linkField uint8

const (
	// runField carries ready-queue or wait-list membership. A task is on at
	// most one of those at a time, and the owning list tags which.
	runField linkField = iota
	// tickField carries tick-bucket membership.
	tickField
	numLinkFields
)

// listKind tags what a list is for, so a link's owner says what the task is
// a member of.
type listKind uint8

const (
	// kindWait is zero so a zero WaitList needs no initialisation.
	kindWait listKind = iota
	kindReady
	kindTick
)

type link struct {
	prev, next *Task
	owner      *taskList
}

// taskList is an intrusive doubly linked list of tasks.
type taskList struct {
	head, tail *Task
	n          int
	field      linkField
	kind       listKind
}

func (l *taskList) init(field linkField, kind listKind) {
	*l = taskList{field: field, kind: kind}
}

func (l *taskList) len() int { return l.n }

func (l *taskList) empty() bool { return l.n == 0 }

func (l *taskList) front() *Task { return l.head }

func (l *taskList) lk(t *Task) *link { return &t.links[l.field] }

func (l *taskList) contains(t *Task) bool { return l.lk(t).owner == l }

func (l *taskList) next(t *Task) *Task { return l.lk(t).next }

// pushBack appends t. The caller must have checked that t's link is free.
func (l *taskList) pushBack(t *Task) {
	l.insertBefore(t, nil)
}

func (l *taskList) pushFront(t *Task) {
	l.insertBefore(t, l.head)
}

// insertBefore links t in front of at; a nil at appends.
func (l *taskList) insertBefore(t, at *Task) {
	tl := l.lk(t)
	tl.owner = l
	if at == nil {
		tl.prev = l.tail
		tl.next = nil
		if l.tail != nil {
			l.lk(l.tail).next = t
		} else {
			l.head = t
		}
		l.tail = t
		l.n++
		return
	}
	al := l.lk(at)
	tl.next = at
	tl.prev = al.prev
	if al.prev != nil {
		l.lk(al.prev).next = t
	} else {
		l.head = t
	}
	al.prev = t
	l.n++
}

func (l *taskList) remove(t *Task) {
	tl := l.lk(t)
	if tl.prev != nil {
		l.lk(tl.prev).next = tl.next
	} else {
		l.head = tl.next
	}
	if tl.next != nil {
		l.lk(tl.next).prev = tl.prev
	} else {
		l.tail = tl.prev
	}
	*tl = link{}
	l.n--
}

func (l *taskList) popFront() *Task {
	t := l.head
	if t != nil {
		l.remove(t)
	}
	return t
}

// runMembership reports which kind of list t's run link is threaded on.
func (t *Task) runMembership() (listKind, bool) {
	o := t.links[runField].owner
	if o == nil {
		return 0, false
	}
	return o.kind, true
}
