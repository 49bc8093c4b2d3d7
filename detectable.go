// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// logAction distinguishes what kind of operation a LogEntry records.
type logAction int

const (
	logNone logAction = iota
	logInsert
	logRemove
)

// LogEntry is one thread's record of its most recent operation, as
// described below. For an insert log, node is the node that
// operation inserted and status reports whether it is confirmed linked
// into the list. For a remove log, node is the node that operation
// removed (nil until claimed) and status reports "confirmed empty".
type LogEntry[T any] struct {
	opNum  int
	action logAction
	status atomix.Bool
	node   atomix.Uintptr // *detectableNode[T]
}

// detectableNode is the Michael–Scott node used by Detectable: a value, a
// next link, and the insert/remove log entries referencing it.
type detectableNode[T any] struct {
	value  T
	next   atomix.Uintptr // *detectableNode[T]
	logEnq atomix.Uintptr // *LogEntry[T], nil until the node exists
	logDeq atomix.Uintptr // *LogEntry[T], nil until some thread claims it
}

func (n *detectableNode[T]) loadNext() *detectableNode[T] {
	p := n.next.LoadAcquire()
	if p == 0 {
		return nil
	}
	return fromUintptr[detectableNode[T]](p)
}

func (n *detectableNode[T]) loadLogEnq() *LogEntry[T] {
	p := n.logEnq.LoadAcquire()
	if p == 0 {
		return nil
	}
	return fromUintptr[LogEntry[T]](p)
}

func (n *detectableNode[T]) loadLogDeq() *LogEntry[T] {
	p := n.logDeq.LoadAcquire()
	if p == 0 {
		return nil
	}
	return fromUintptr[LogEntry[T]](p)
}

// RecoveryOutcome is the detectability contract made explicit:
// after Recover, a thread asks Outcome(tid) to learn what became of its
// last in-flight call.
type RecoveryOutcome[T any] struct {
	// NotInFlight is true when the thread had no operation recorded in the
	// logs array passed to Recover (it crashed, if at all, between calls).
	NotInFlight bool
	// Completed is true when the operation is confirmed to have taken
	// effect: an insert that is reachable or confirmed, or a remove that
	// claimed a node.
	Completed bool
	// Value is the removed value, valid only when Completed is true and
	// the operation was a remove of a non-empty queue.
	Value T
	// Empty is true when a remove call's outcome was "the queue was
	// empty" rather than a removed value.
	Empty bool
}

// Detectable is durably linearizable and detectable. Every
// enq/deq commits a log entry referenced from logs[tid] before it does
// anything else; after a crash, Recover repairs head/tail and replays
// any log entry whose operation didn't provably finish, and Outcome lets
// the caller learn what happened to its own last call.
type Detectable[T any] struct {
	_       pad
	head    atomix.Uintptr // *detectableNode[T]
	_       pad
	tail    atomix.Uintptr // *detectableNode[T]
	_       pad
	barrier Barrier
	logs    []logSlot[T]
	// outcomes is populated by Recover and queried by Outcome; it is not
	// part of the durable state, only this process's view of it.
	outcomes []RecoveryOutcome[T]
}

type logSlot[T any] struct {
	entry atomix.Uintptr // *LogEntry[T]
	_     padShort
}

// NewDetectable creates an empty Detectable queue sized for threadCount
// concurrent callers, using the default portable Barrier.
func NewDetectable[T any](threadCount int) *Detectable[T] {
	return NewDetectableWithBarrier[T](threadCount, DefaultBarrier)
}

// NewDetectableWithBarrier is NewDetectable with an injectable Barrier.
func NewDetectableWithBarrier[T any](threadCount int, b Barrier) *Detectable[T] {
	q := &Detectable[T]{
		barrier:  b,
		logs:     make([]logSlot[T], threadCount),
		outcomes: make([]RecoveryOutcome[T], threadCount),
	}
	for i := range q.outcomes {
		q.outcomes[i] = RecoveryOutcome[T]{NotInFlight: true}
	}
	var zero T
	dummy := &detectableNode[T]{value: zero}
	barrier(b, toPointer(dummy))
	p := toUintptr(dummy)
	q.head.StoreRelease(p)
	q.tail.StoreRelease(p)
	barrier(b, toPointer(&q.head))
	barrier(b, toPointer(&q.tail))
	return q
}

func (q *Detectable[T]) createEnqLog(v T, tid, opNum int) *detectableNode[T] {
	node := &detectableNode[T]{value: v}
	log := &LogEntry[T]{opNum: opNum, action: logInsert}
	log.node.StoreRelaxed(toUintptr(node))
	node.logEnq.StoreRelaxed(toUintptr(log))
	barrierOpt(q.barrier, toPointer(node))
	barrier(q.barrier, toPointer(log))

	q.logs[tid].entry.StoreRelease(toUintptr(log))
	barrier(q.barrier, toPointer(&q.logs[tid]))
	return node
}

func (q *Detectable[T]) createDeqLog(tid, opNum int) *LogEntry[T] {
	log := &LogEntry[T]{opNum: opNum, action: logRemove}
	barrier(q.barrier, toPointer(log))

	q.logs[tid].entry.StoreRelease(toUintptr(log))
	barrier(q.barrier, toPointer(&q.logs[tid]))
	return log
}

// Enqueue appends v to the tail of the queue on behalf of thread tid,
// recorded under opNum. Never fails.
func (q *Detectable[T]) Enqueue(v T, tid, opNum int) {
	node := q.createEnqLog(v, tid, opNum)
	nodePtr := toUintptr(node)

	sw := spin.Wait{}
	for {
		lastPtr := q.tail.LoadAcquire()
		last := fromUintptr[detectableNode[T]](lastPtr)
		nextPtr := last.next.LoadAcquire()

		if lastPtr != q.tail.LoadAcquire() {
			sw.Once()
			continue
		}
		if nextPtr == 0 {
			if last.next.CompareAndSwapAcqRel(0, nodePtr) {
				barrierOpt(q.barrier, toPointer(&last.next))
				q.tail.CompareAndSwapAcqRel(lastPtr, nodePtr)
				markEnqComplete(node)
				return
			}
		} else {
			barrierOpt(q.barrier, toPointer(&last.next))
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
			markEnqComplete(fromUintptr[detectableNode[T]](nextPtr))
		}
		sw.Once()
	}
}

// markEnqComplete sets a linked node's insert log status, so recovery
// will not re-execute an insert that is already visible.
func markEnqComplete[T any](n *detectableNode[T]) {
	if log := n.loadLogEnq(); log != nil {
		log.status.StoreRelease(true)
	}
}

// Dequeue removes and returns the value at the head of the queue on
// behalf of thread tid, recorded under opNum. Returns (zero-value,
// ErrEmpty) if the queue is observed empty.
func (q *Detectable[T]) Dequeue(tid, opNum int) (T, error) {
	log := q.createDeqLog(tid, opNum)

	sw := spin.Wait{}
	for {
		firstPtr := q.head.LoadAcquire()
		lastPtr := q.tail.LoadAcquire()
		first := fromUintptr[detectableNode[T]](firstPtr)
		nextPtr := first.next.LoadAcquire()

		if firstPtr != q.head.LoadAcquire() {
			sw.Once()
			continue
		}
		if firstPtr == lastPtr {
			if nextPtr == 0 {
				log.status.StoreRelease(true)
				barrier(q.barrier, toPointer(log))
				var zero T
				return zero, ErrEmpty
			}
			barrierOpt(q.barrier, toPointer(&first.next))
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		} else {
			next := fromUintptr[detectableNode[T]](nextPtr)

			if next.logDeq.CompareAndSwapAcqRel(0, toUintptr(log)) {
				barrier(q.barrier, toPointer(&next.logDeq))
				log.node.StoreRelease(nextPtr)
				barrierOpt(q.barrier, toPointer(&log.node))
				q.head.CompareAndSwapAcqRel(firstPtr, nextPtr)
				return next.value, nil
			}
			// Someone else claimed next; finish their removal by pointing
			// their log at the node, then advance head and retry.
			if q.head.LoadAcquire() == firstPtr {
				winnerLog := next.loadLogDeq()
				if winnerLog != nil {
					winnerLog.node.StoreRelease(nextPtr)
					barrierOpt(q.barrier, toPointer(&winnerLog.node))
				}
				q.head.CompareAndSwapAcqRel(firstPtr, nextPtr)
			}
		}
		sw.Once()
	}
}

// Outcome reports what became of thread tid's last in-flight operation as
// of the most recent Recover call. Calling Outcome before ever calling
// Recover (i.e. with no crash in this process's lifetime) returns a
// RecoveryOutcome with only NotInFlight set, as does an out-of-range tid.
func (q *Detectable[T]) Outcome(tid int) RecoveryOutcome[T] {
	if tid < 0 || tid >= len(q.outcomes) {
		return RecoveryOutcome[T]{NotInFlight: true}
	}
	return q.outcomes[tid]
}

// Logs returns thread tid's last recorded operation for every tid, as it
// currently stands in this queue's log array: logs[tid] is nil if tid has
// no recorded operation. Call it on a Detectable reconstructed from the
// same NVM-backed memory after a crash, and pass its result to Recover.
func (q *Detectable[T]) Logs() []*LogEntry[T] {
	out := make([]*LogEntry[T], len(q.logs))
	for tid := range q.logs {
		if p := q.logs[tid].entry.LoadAcquire(); p != 0 {
			out[tid] = fromUintptr[LogEntry[T]](p)
		}
	}
	return out
}

// Recover repairs the queue's structural invariants after a crash and
// replays every thread's unfinished operation from oldLogs, the logs
// array as it survived the crash: call Logs on the reconstructed queue
// to obtain it. It must be called once, before any other operation
// resumes on this queue.
func (q *Detectable[T]) Recover(oldLogs []*LogEntry[T]) {
	q.updateHead()
	q.updateTailAndStatus()
	q.finishPrevOperations(oldLogs)
	q.createNewArray()
}

// updateHead walks from head until it finds a node with no logDeq (the
// first node not yet claimed by any remove), finalizing the last visible
// removal along the way. next is captured fresh each iteration via
// temp.loadNext(), never carried over from a previous one.
func (q *Detectable[T]) updateHead() {
	start := fromUintptr[detectableNode[T]](q.head.LoadAcquire())
	temp := start.loadNext()
	for {
		if temp == nil || temp.loadLogDeq() == nil {
			return
		}
		next := temp.loadNext()
		if next == nil || next.loadLogDeq() == nil {
			logDeq := temp.loadLogDeq()
			barrier(q.barrier, toPointer(&temp.logDeq))
			logDeq.node.StoreRelease(toUintptr(temp))
			barrierOpt(q.barrier, toPointer(&logDeq.node))
			q.head.CompareAndSwapAcqRel(toUintptr(start), toUintptr(temp))
			return
		}
		temp = next
	}
}

// updateTailAndStatus walks from the new head, marking every traversed
// node's insert log complete (its insertion is globally visible), and
// advances tail to the last node. start is the already-dereferenced
// current head, never an atomic wrapper, matching every `temp = next`
// reassignment in this loop.
func (q *Detectable[T]) updateTailAndStatus() {
	prevTail := fromUintptr[detectableNode[T]](q.tail.LoadAcquire())
	start := fromUintptr[detectableNode[T]](q.head.LoadAcquire())

	temp := start
	markEnqComplete(temp)
	for {
		next := temp.loadNext()
		if next == nil {
			q.tail.CompareAndSwapAcqRel(toUintptr(prevTail), toUintptr(temp))
			return
		}
		if next.loadNext() == nil {
			barrier(q.barrier, toPointer(&temp.next))
			markEnqComplete(next)
			q.tail.CompareAndSwapAcqRel(toUintptr(prevTail), toUintptr(next))
			return
		}
		temp = next
		markEnqComplete(temp)
	}
}

// finishPrevOperations replays every surviving thread's last recorded
// operation and records its RecoveryOutcome. A tid with no surviving log
// (nil, or past the end of oldLogs) had no in-flight operation at crash
// time, not a resolved one, so its outcome is NotInFlight rather than
// whatever Completed/Value/Empty it carried from a previous Recover.
func (q *Detectable[T]) finishPrevOperations(oldLogs []*LogEntry[T]) {
	for tid := range q.outcomes {
		var log *LogEntry[T]
		if tid < len(oldLogs) {
			log = oldLogs[tid]
		}
		if log == nil {
			q.outcomes[tid] = RecoveryOutcome[T]{NotInFlight: true}
			continue
		}
		switch log.action {
		case logInsert:
			q.outcomes[tid] = q.finishInsert(log)
		case logRemove:
			q.outcomes[tid] = q.finishRemove(log)
		}
	}
}

// finishInsert re-runs the enqueue linking loop for a log whose node was
// already constructed but may not have been linked in before the crash.
// The CAS below is against a named expected variable (always zero/nil
// here) rather than a literal; atomix.Uintptr.CompareAndSwapAcqRel takes
// two values, not an lvalue to mutate on failure, so either form works.
func (q *Detectable[T]) finishInsert(log *LogEntry[T]) RecoveryOutcome[T] {
	nodePtr := log.node.LoadAcquire()
	node := fromUintptr[detectableNode[T]](nodePtr)

	sw := spin.Wait{}
	for {
		if log.status.LoadAcquire() {
			return RecoveryOutcome[T]{Completed: true}
		}
		lastPtr := q.tail.LoadAcquire()
		last := fromUintptr[detectableNode[T]](lastPtr)
		nextPtr := last.next.LoadAcquire()

		if lastPtr != q.tail.LoadAcquire() {
			sw.Once()
			continue
		}
		var expected uintptr
		if nextPtr == 0 {
			if last.next.CompareAndSwapAcqRel(expected, nodePtr) {
				barrier(q.barrier, toPointer(&last.next))
				markEnqComplete(node)
				q.tail.CompareAndSwapAcqRel(lastPtr, nodePtr)
				return RecoveryOutcome[T]{Completed: true}
			}
		} else {
			barrier(q.barrier, toPointer(&last.next))
			markEnqComplete(fromUintptr[detectableNode[T]](nextPtr))
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		}
		sw.Once()
	}
}

// finishRemove re-runs the dequeue CAS using log as the claim token, in
// case the pre-crash call never got to claim a node or observe emptiness.
// next.loadLogEnq() is nil-checked before use: a crash between allocating
// a node and linking its insert log could otherwise leave logEnq nil here
// during replay.
func (q *Detectable[T]) finishRemove(log *LogEntry[T]) RecoveryOutcome[T] {
	sw := spin.Wait{}
	for {
		if log.node.LoadAcquire() != 0 {
			node := fromUintptr[detectableNode[T]](log.node.LoadAcquire())
			return RecoveryOutcome[T]{Completed: true, Value: node.value}
		}
		if log.status.LoadAcquire() {
			return RecoveryOutcome[T]{Completed: true, Empty: true}
		}

		firstPtr := q.head.LoadAcquire()
		lastPtr := q.tail.LoadAcquire()
		first := fromUintptr[detectableNode[T]](firstPtr)
		nextPtr := first.next.LoadAcquire()

		if firstPtr != q.head.LoadAcquire() {
			sw.Once()
			continue
		}
		if firstPtr == lastPtr {
			if nextPtr == 0 {
				log.status.StoreRelease(true)
				barrier(q.barrier, toPointer(log))
				return RecoveryOutcome[T]{Completed: true, Empty: true}
			}
			if enq := fromUintptr[detectableNode[T]](nextPtr).loadLogEnq(); enq != nil {
				enq.status.StoreRelease(true)
			}
			barrier(q.barrier, toPointer(&first.next))
			q.tail.CompareAndSwapAcqRel(lastPtr, nextPtr)
		} else {
			next := fromUintptr[detectableNode[T]](nextPtr)
			var expected uintptr
			if next.logDeq.CompareAndSwapAcqRel(expected, toUintptr(log)) {
				barrier(q.barrier, toPointer(&next.logDeq))
				log.node.StoreRelease(nextPtr)
				barrierOpt(q.barrier, toPointer(&log.node))
				q.head.CompareAndSwapAcqRel(firstPtr, nextPtr)
				return RecoveryOutcome[T]{Completed: true, Value: next.value}
			}
			if q.head.LoadAcquire() == firstPtr {
				winnerLog := next.loadLogDeq()
				if winnerLog != nil {
					winnerLog.node.StoreRelease(nextPtr)
					barrierOpt(q.barrier, toPointer(&winnerLog.node))
				}
				q.head.CompareAndSwapAcqRel(firstPtr, nextPtr)
			}
		}
		sw.Once()
	}
}

// createNewArray clears every slot of the logs array in place for the
// current session, now that every prior-session operation is finished.
func (q *Detectable[T]) createNewArray() {
	for i := range q.logs {
		q.logs[i].entry.StoreRelaxed(0)
		barrierOpt(q.barrier, toPointer(&q.logs[i]))
	}
	barrier(q.barrier, toPointer(&q.logs))
}

// Seed enqueues each of values in order, under a synthetic thread id and
// increasing operation numbers. Single-threaded use only.
func (q *Detectable[T]) Seed(tid int, values ...T) {
	for i, v := range values {
		q.Enqueue(v, tid, i)
	}
}
