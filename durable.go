// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// notDequeued is the threadID sentinel a durableNode carries until some
// thread claims it with a successful CAS.
const notDequeued = -1

// durableNode is the Michael–Scott node used by Durable: a value, a next
// link, and a thread-id tag CAS'd from notDequeued to the id of whichever
// thread wins the race to dequeue it.
type durableNode[T any] struct {
	value    T
	next     atomix.Uintptr // *durableNode[T]
	threadID atomix.Int32
}

func newDurableNode[T any](v T) *durableNode[T] {
	n := &durableNode[T]{value: v}
	n.threadID.StoreRelaxed(notDequeued)
	return n
}

// durableResult is an explicit sum in place of a reserved empty-sentinel
// integer: ok is false exactly when the dequeue that produced this cell
// observed the queue empty.
type durableResult[T any] struct {
	value T
	ok    bool
}

// Durable is durably linearizable: every enq/deq that completes before a
// crash survives it. It extends Volatile with a thread-id tag written into
// each node at dequeue time and a per-thread "last removed value" slot, so
// a value that was already removed from the list is still recoverable
// after a crash that happens before it reaches the caller.
type Durable[T any] struct {
	_       pad
	head    atomix.Uintptr // *durableNode[T]
	_       pad
	tail    atomix.Uintptr // *durableNode[T]
	_       pad
	barrier Barrier
	// removedValues holds, per thread, a pointer to the durableResult
	// cell that thread's most recent Dequeue wrote. Each slot is padded to
	// its own cache line.
	removedValues []removedValueSlot[T]
}

type removedValueSlot[T any] struct {
	cell atomix.Uintptr // *durableResult[T]
	_    padShort
}

// NewDurable creates an empty Durable queue sized for threadCount
// concurrent callers (thread ids in [0, threadCount)), using the default
// portable Barrier.
func NewDurable[T any](threadCount int) *Durable[T] {
	return NewDurableWithBarrier[T](threadCount, DefaultBarrier)
}

// NewDurableWithBarrier is NewDurable with an injectable Barrier, for
// crash-recovery testing against a model barrier.
func NewDurableWithBarrier[T any](threadCount int, b Barrier) *Durable[T] {
	q := &Durable[T]{barrier: b, removedValues: make([]removedValueSlot[T], threadCount)}
	var zero T
	dummy := newDurableNode(zero)
	barrier(b, toPointer(dummy))
	p := toUintptr(dummy)
	q.head.StoreRelease(p)
	q.tail.StoreRelease(p)
	barrier(b, toPointer(&q.head))
	barrier(b, toPointer(&q.tail))
	return q
}

// Enqueue appends v to the tail of the queue. Never fails.
//
// The new node's contents are persisted before it is linked in: a reader
// can only ever observe a fully-initialized node.
func (q *Durable[T]) Enqueue(v T) {
	node := newDurableNode(v)
	barrier(q.barrier, toPointer(node))
	nodePtr := toUintptr(node)

	sw := spin.Wait{}
	for {
		lastPtr := q.tail.LoadAcquire()
		last := fromUintptr[durableNode[T]](lastPtr)
		nextPtr := last.next.LoadAcquire()

		if lastPtr != q.tail.LoadAcquire() {
			sw.Once()
			continue
		}
		if nextPtr == 0 {
			if last.next.CompareAndSwapAcqRel(0, nodePtr) {
				barrierOpt(q.barrier, toPointer(&last.next))
				q.tail.CompareAndSwapAcqRel(lastPtr, nodePtr)
				return
			}
		} else {
			barrierOpt(q.barrier, toPointer(&last.next))
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		}
		sw.Once()
	}
}

// Dequeue removes and returns the value at the head of the queue on
// behalf of thread tid. Returns (zero-value, ErrEmpty) if the queue is
// observed empty. The result is durably recorded in tid's removed-value
// slot before Dequeue returns, so a crash between the remove and the
// caller observing the return value is recoverable via Recover.
func (q *Durable[T]) Dequeue(tid int) (T, error) {
	cell := &durableResult[T]{}
	barrier(q.barrier, toPointer(cell))
	q.removedValues[tid].cell.StoreRelease(toUintptr(cell))
	barrier(q.barrier, toPointer(&q.removedValues[tid]))

	sw := spin.Wait{}
	for {
		firstPtr := q.head.LoadAcquire()
		lastPtr := q.tail.LoadAcquire()
		first := fromUintptr[durableNode[T]](firstPtr)
		nextPtr := first.next.LoadAcquire()

		if firstPtr != q.head.LoadAcquire() {
			sw.Once()
			continue
		}
		if firstPtr == lastPtr {
			if nextPtr == 0 {
				var zero T
				cell.value, cell.ok = zero, false
				barrier(q.barrier, toPointer(cell))
				return cell.value, ErrEmpty
			}
			barrierOpt(q.barrier, toPointer(&first.next))
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		} else {
			next := fromUintptr[durableNode[T]](nextPtr)
			value := next.value

			if next.threadID.CompareAndSwapAcqRel(notDequeued, int32(tid)) {
				barrier(q.barrier, toPointer(&next.threadID))
				cell.value, cell.ok = value, true
				barrierOpt(q.barrier, toPointer(cell))
				q.head.CompareAndSwapAcqRel(firstPtr, nextPtr)
				return value, nil
			}
			// Someone else claimed next first; help finish their removal
			// by recording the value in *their* slot, then advance head.
			winner := int(next.threadID.LoadAcquire())
			if q.head.LoadAcquire() == firstPtr {
				barrier(q.barrier, toPointer(&next.threadID))
				winnerCellPtr := q.removedValues[winner].cell.LoadAcquire()
				if winnerCellPtr != 0 {
					winnerCell := fromUintptr[durableResult[T]](winnerCellPtr)
					winnerCell.value, winnerCell.ok = value, true
					barrierOpt(q.barrier, toPointer(winnerCell))
				}
				q.head.CompareAndSwapAcqRel(firstPtr, nextPtr)
			}
		}
		sw.Once()
	}
}

// Recover reads thread tid's removed-value slot as left by the last
// Dequeue(tid) call before a crash. ok reports whether that slot has ever
// been written: it is false for a tid that has never called Dequeue on
// this queue. A Dequeue that had not yet removed a value reads back as
// ErrEmpty, the same as one that observed the queue empty.
func (q *Durable[T]) Recover(tid int) (value T, ok bool, err error) {
	p := q.removedValues[tid].cell.LoadAcquire()
	if p == 0 {
		return value, false, nil
	}
	cell := fromUintptr[durableResult[T]](p)
	if !cell.ok {
		return value, true, ErrEmpty
	}
	return cell.value, true, nil
}

// Seed enqueues each of values in order. Single-threaded use only.
func (q *Durable[T]) Seed(values ...T) {
	for _, v := range values {
		q.Enqueue(v)
	}
}
