// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// relaxedKind tags a relaxedNode as either an ordinary queue element or a
// temporary tail-blocking marker, so next-pointer readers branch on kind
// instead of attempting a type assertion. Every relaxedNode carries its
// kind from construction.
type relaxedKind int32

const (
	kindNode relaxedKind = iota
	kindInvalid
)

// relaxedNode is the single node type BufferedRelaxed's list is built
// from. kind is written once at construction, before the node is ever
// published via a CAS, so it is safe to read unsynchronized thereafter.
// version/tail/head are meaningful only when kind == kindInvalid.
type relaxedNode[T any] struct {
	value T
	next  atomix.Uintptr // *relaxedNode[T]
	kind  relaxedKind

	version int64
	tail    atomix.Uintptr // *relaxedNode[T], the tail this marker blocked
	head    atomix.Uintptr // *relaxedNode[T], nil until CAS'd to a snapshot head
}

func newRelaxedNode[T any](v T) *relaxedNode[T] {
	return &relaxedNode[T]{value: v, kind: kindNode}
}

func newInvalidMarker[T any]() *relaxedNode[T] {
	return &relaxedNode[T]{kind: kindInvalid}
}

// nvmSnapshot is the last range of the list known to be durable: every
// node reachable from nvmHead up to and including nvmTail. version orders
// snapshots so a stale Sync call can recognize it has been overtaken.
type nvmSnapshot[T any] struct {
	nvmTail atomix.Uintptr // *relaxedNode[T]
	nvmHead atomix.Uintptr // *relaxedNode[T]
	version int64
}

// BufferedRelaxed is a buffered durably linearizable queue: enq/deq
// operate purely in volatile memory at full Michael–Scott speed, and a
// separate Sync call is what advances the durable snapshot. Everything
// enqueued before the most recent completed Sync is guaranteed to survive
// a crash; anything enqueued after it is not.
type BufferedRelaxed[T any] struct {
	_       pad
	head    atomix.Uintptr // *relaxedNode[T]
	_       pad
	tail    atomix.Uintptr // *relaxedNode[T]
	_       pad
	data    atomix.Uintptr // *nvmSnapshot[T]
	counter atomix.Int64   // monotonically incremented each time a thread begins a sync
	barrier Barrier
}

// NewBufferedRelaxed creates an empty BufferedRelaxed queue using the
// default portable Barrier.
func NewBufferedRelaxed[T any]() *BufferedRelaxed[T] {
	return NewBufferedRelaxedWithBarrier[T](DefaultBarrier)
}

// NewBufferedRelaxedWithBarrier is NewBufferedRelaxed with an injectable
// Barrier.
func NewBufferedRelaxedWithBarrier[T any](b Barrier) *BufferedRelaxed[T] {
	q := &BufferedRelaxed[T]{barrier: b}
	var zero T
	dummy := newRelaxedNode(zero)
	barrier(b, toPointer(dummy))
	dummyPtr := toUintptr(dummy)
	q.head.StoreRelease(dummyPtr)
	q.tail.StoreRelease(dummyPtr)
	barrier(b, toPointer(&q.head))
	barrier(b, toPointer(&q.tail))

	snap := &nvmSnapshot[T]{version: -1}
	snap.nvmTail.StoreRelaxed(dummyPtr)
	snap.nvmHead.StoreRelaxed(dummyPtr)
	barrier(b, toPointer(snap))
	q.data.StoreRelease(toUintptr(snap))
	barrier(b, toPointer(&q.data))
	return q
}

// Enqueue appends v to the tail of the queue. Never fails. Enqueue itself
// makes no persistence guarantee; call Sync to make recently enqueued
// values durable.
func (q *BufferedRelaxed[T]) Enqueue(v T) {
	node := newRelaxedNode(v)
	nodePtr := toUintptr(node)

	sw := spin.Wait{}
	for {
		lastPtr := q.tail.LoadAcquire()
		last := fromUintptr[relaxedNode[T]](lastPtr)
		nextPtr := last.next.LoadAcquire()

		if lastPtr != q.tail.LoadAcquire() {
			sw.Once()
			continue
		}
		if nextPtr == 0 {
			if last.next.CompareAndSwapAcqRel(0, nodePtr) {
				q.tail.CompareAndSwapAcqRel(lastPtr, nodePtr)
				return
			}
		} else {
			next := fromUintptr[relaxedNode[T]](nextPtr)
			if next.kind == kindInvalid {
				q.helpFinishSnapshot(next)
				continue
			}
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		}
		sw.Once()
	}
}

// Dequeue removes and returns the value at the head of the queue. Returns
// (zero-value, ErrEmpty) if the queue is observed empty, which also
// happens transiently while a concurrent Sync has the tail blocked.
func (q *BufferedRelaxed[T]) Dequeue() (T, error) {
	sw := spin.Wait{}
	for {
		firstPtr := q.head.LoadAcquire()
		lastPtr := q.tail.LoadAcquire()
		first := fromUintptr[relaxedNode[T]](firstPtr)
		nextPtr := first.next.LoadAcquire()

		if firstPtr != q.head.LoadAcquire() {
			sw.Once()
			continue
		}
		if firstPtr == lastPtr {
			if nextPtr == 0 {
				var zero T
				return zero, ErrEmpty
			}
			next := fromUintptr[relaxedNode[T]](nextPtr)
			if next.kind == kindInvalid {
				q.helpFinishSnapshot(next)
				var zero T
				return zero, ErrEmpty
			}
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		} else {
			next := fromUintptr[relaxedNode[T]](nextPtr)
			value := next.value
			if q.head.CompareAndSwapAcqRel(firstPtr, nextPtr) {
				return value, nil
			}
		}
		sw.Once()
	}
}

// helpFinishSnapshot completes a tail-blocking marker left by a concurrent
// blockTheTail call: it assigns the marker's snapshot head if nobody has
// yet, then unblocks the tail by removing the marker.
func (q *BufferedRelaxed[T]) helpFinishSnapshot(marker *relaxedNode[T]) {
	marker.head.CompareAndSwapAcqRel(0, q.head.LoadAcquire())
	blockedTail := fromUintptr[relaxedNode[T]](marker.tail.LoadAcquire())
	blockedTail.next.CompareAndSwapAcqRel(toUintptr(marker), 0)
}

// blockTheTail appends an Invalid marker at the current tail and records
// the resulting (tail, head) pair into marker, giving Sync a consistent
// snapshot to make durable. Returns false if a concurrently running Sync
// has already claimed a later version, in which case the caller's Sync
// call has nothing left to do.
func (q *BufferedRelaxed[T]) blockTheTail(marker *relaxedNode[T]) bool {
	currData := fromUintptr[nvmSnapshot[T]](q.data.LoadAcquire())
	myVersion := q.counter.AddAcqRel(1) - 1
	marker.version = myVersion

	sw := spin.Wait{}
	for {
		if currData.version > myVersion {
			return false
		}
		lastPtr := q.tail.LoadAcquire()
		last := fromUintptr[relaxedNode[T]](lastPtr)
		nextPtr := last.next.LoadAcquire()

		if lastPtr != q.tail.LoadAcquire() {
			sw.Once()
			continue
		}
		if nextPtr == 0 {
			marker.tail.StoreRelaxed(lastPtr)
			if last.next.CompareAndSwapAcqRel(0, toUintptr(marker)) {
				marker.head.CompareAndSwapAcqRel(0, q.head.LoadAcquire())
				last.next.CompareAndSwapAcqRel(toUintptr(marker), 0)
				return true
			}
		} else {
			next := fromUintptr[relaxedNode[T]](nextPtr)
			if next.kind == kindInvalid {
				if next.version > myVersion || next.head.LoadAcquire() == 0 {
					next.head.CompareAndSwapAcqRel(0, q.head.LoadAcquire())
					blockedTail := fromUintptr[relaxedNode[T]](next.tail.LoadAcquire())
					blockedTail.next.CompareAndSwapAcqRel(nextPtr, 0)
					marker.version = next.version
					marker.tail.StoreRelaxed(next.tail.LoadAcquire())
					marker.head.StoreRelaxed(next.head.LoadAcquire())
					return true
				}
				q.helpFinishSnapshot(next)
				continue
			}
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		}
		sw.Once()
	}
}

// makeDurable flushes every node from start up to and including end.
func (q *BufferedRelaxed[T]) makeDurable(start, end *relaxedNode[T]) {
	temp := start
	barrier(q.barrier, toPointer(temp))
	for temp != end {
		next := fromUintptr[relaxedNode[T]](temp.next.LoadAcquire())
		barrier(q.barrier, toPointer(next))
		temp = next
	}
}

// Sync takes a snapshot of the queue and makes every node between the
// previous durable tail and the current tail durable. If a concurrent
// Sync call has already advanced further, Sync returns having done
// nothing: it never un-does another thread's progress.
//
// tid identifies the calling thread but plays no role in the algorithm
// itself. Every thread contends for the same global version counter
// regardless of identity. The parameter exists for symmetry with the
// other variants' operations, all of which are indexed by caller.
func (q *BufferedRelaxed[T]) Sync(tid int) {
	_ = tid
	marker := newInvalidMarker[T]()
	for {
		currData := fromUintptr[nvmSnapshot[T]](q.data.LoadAcquire())
		if !q.blockTheTail(marker) {
			return
		}

		blockedTail := fromUintptr[relaxedNode[T]](marker.tail.LoadAcquire())
		q.makeDurable(fromUintptr[relaxedNode[T]](currData.nvmTail.LoadAcquire()), blockedTail)

		next := &nvmSnapshot[T]{version: marker.version}
		next.nvmTail.StoreRelaxed(marker.tail.LoadAcquire())
		next.nvmHead.StoreRelaxed(marker.head.LoadAcquire())
		barrier(q.barrier, toPointer(next))

		if q.data.CompareAndSwapAcqRel(toUintptr(currData), toUintptr(next)) {
			barrier(q.barrier, toPointer(&q.data))
			return
		}
	}
}

// Snapshot is the durable (head, tail) range as of the last completed
// Sync call: every value enqueued at or before Tail and not yet dequeued
// at Head's time is guaranteed to survive a crash.
type Snapshot[T any] struct {
	Head    T
	Tail    T
	Version int64
}

// LastDurable reports the current NVM snapshot's version and the values
// at its head and tail boundary nodes, for diagnostics and tests. It is
// not itself part of the crash-recovery contract: after a real crash,
// only the node chain from Head to Tail is guaranteed intact, not this
// process's in-memory Snapshot value.
func (q *BufferedRelaxed[T]) LastDurable() Snapshot[T] {
	snap := fromUintptr[nvmSnapshot[T]](q.data.LoadAcquire())
	head := fromUintptr[relaxedNode[T]](snap.nvmHead.LoadAcquire())
	tail := fromUintptr[relaxedNode[T]](snap.nvmTail.LoadAcquire())
	return Snapshot[T]{Head: head.value, Tail: tail.value, Version: snap.version}
}

// Seed enqueues each of values in order. Single-threaded use only.
func (q *BufferedRelaxed[T]) Seed(values ...T) {
	for _, v := range values {
		q.Enqueue(v)
	}
}
