package clustercache

// entryStore resolves an entryRef to the Entry it addresses. Outside tests,
// the engine's deviceManager is the only implementation: it fans the device
// component out of the ref and indexes into that device's arena. Tests use
// the flat fakeStore instead.
type entryStore interface {
	entryAt(ref entryRef) *Entry
}

// lruList is an intrusive doubly-linked list of entries, threaded through
// each Entry's lruPrev/lruNext fields. The same list type backs a namespace's
// private LRU, the engine's global LRU, and the invalidated free list -
// spec.md draws no distinction between them beyond which one an entry
// currently belongs to.
type lruList struct {
	head, tail entryRef
	length     uint64
}

// Len reports the number of entries currently linked into the list.
func (l *lruList) Len() uint64 {
	return l.length
}

// Empty reports whether the list has no entries.
func (l *lruList) Empty() bool {
	return l.length == 0
}

// pushFront links ref at the head of the list. ref must not already be
// linked into any list.
func (l *lruList) pushFront(es entryStore, ref entryRef) {
	e := es.entryAt(ref)
	e.lruPrev = nilRef
	e.lruNext = l.head

	if !l.head.isNil() {
		es.entryAt(l.head).lruPrev = ref
	} else {
		l.tail = ref
	}

	l.head = ref
	l.length++
}

// pushBack links ref at the tail of the list. ref must not already be linked
// into any list.
func (l *lruList) pushBack(es entryStore, ref entryRef) {
	e := es.entryAt(ref)
	e.lruNext = nilRef
	e.lruPrev = l.tail

	if !l.tail.isNil() {
		es.entryAt(l.tail).lruNext = ref
	} else {
		l.head = ref
	}

	l.tail = ref
	l.length++
}

// remove unlinks ref from the list. ref must currently be linked into this
// list (the caller is responsible for that invariant - the list has no way
// to check membership cheaply).
func (l *lruList) remove(es entryStore, ref entryRef) {
	e := es.entryAt(ref)

	if !e.lruPrev.isNil() {
		es.entryAt(e.lruPrev).lruNext = e.lruNext
	} else {
		l.head = e.lruNext
	}

	if !e.lruNext.isNil() {
		es.entryAt(e.lruNext).lruPrev = e.lruPrev
	} else {
		l.tail = e.lruPrev
	}

	e.lruPrev = nilRef
	e.lruNext = nilRef
	l.length--
}

// popBack removes and returns the tail of the list, or nilRef if the list is
// empty. Used for LRU eviction (the tail is the least-recently-used entry).
func (l *lruList) popBack(es entryStore) entryRef {
	if l.tail.isNil() {
		return nilRef
	}

	victim := l.tail
	l.remove(es, victim)

	return victim
}

// moveToFront re-heads ref, which must currently be linked into this list,
// to the front. This is the read-hot-path re-heading operation performed
// under the engine's small list lock (spec.md §5).
func (l *lruList) moveToFront(es entryStore, ref entryRef) {
	if l.head == ref {
		return
	}

	l.remove(es, ref)
	l.pushFront(es, ref)
}
