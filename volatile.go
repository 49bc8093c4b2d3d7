// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// volatileNode is the plain Michael–Scott node: a value and a next link.
// The dummy node at the head of every Volatile queue carries a zero value
// that is never returned to a caller.
type volatileNode[T any] struct {
	value T
	next  atomix.Uintptr // *volatileNode[T]
}

func newVolatileNode[T any](v T) *volatileNode[T] {
	return &volatileNode[T]{value: v}
}

// Volatile is the classic Michael–Scott lock-free queue (DISC 1996): the
// baseline every other variant in this package builds on. It provides no
// persistence guarantee: a crash loses everything.
//
// head and tail are padded onto distinct cache lines; tail is
// allowed to lag the true last node by at most one node, and every reader
// that observes a lagging tail helps advance it before proceeding.
type Volatile[T any] struct {
	_    pad
	head atomix.Uintptr // *volatileNode[T]
	_    pad
	tail atomix.Uintptr // *volatileNode[T]
}

// NewVolatile creates an empty Volatile queue: head and tail both point at
// a fresh dummy node.
func NewVolatile[T any]() *Volatile[T] {
	q := &Volatile[T]{}
	var zero T
	dummy := newVolatileNode(zero)
	p := toUintptr(dummy)
	q.head.StoreRelease(p)
	q.tail.StoreRelease(p)
	return q
}

// Enqueue appends v to the tail of the queue. Never fails.
func (q *Volatile[T]) Enqueue(v T) {
	node := newVolatileNode(v)
	nodePtr := toUintptr(node)
	sw := spin.Wait{}
	for {
		lastPtr := q.tail.LoadAcquire()
		last := fromUintptr[volatileNode[T]](lastPtr)
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
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		}
		sw.Once()
	}
}

// Dequeue removes and returns the value at the head of the queue.
// Returns (zero-value, ErrEmpty) if the queue is observed empty.
func (q *Volatile[T]) Dequeue() (T, error) {
	sw := spin.Wait{}
	for {
		firstPtr := q.head.LoadAcquire()
		lastPtr := q.tail.LoadAcquire()
		first := fromUintptr[volatileNode[T]](firstPtr)
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
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		} else {
			next := fromUintptr[volatileNode[T]](nextPtr)
			value := next.value
			if q.head.CompareAndSwapAcqRel(firstPtr, nextPtr) {
				return value, nil
			}
		}
		sw.Once()
	}
}

// Seed enqueues each of values in order. Single-threaded use only. It is
// a convenience for pre-populating a queue before a benchmark or test, not
// a concurrency-safe bulk operation.
func (q *Volatile[T]) Seed(values ...T) {
	for _, v := range values {
		q.Enqueue(v)
	}
}
