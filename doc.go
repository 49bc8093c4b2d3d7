// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pmq provides lock-free FIFO queues for non-volatile memory (NVM),
// in four variants that trade persistence strength for throughput.
//
// All four share one Michael–Scott lock-free skeleton (DISC 1996): a
// singly-linked list with a head and tail pointer, two-CAS enqueue and
// dequeue, and helping so no thread blocks on another's slow path. They
// differ only in what happens to that skeleton when the process crashes
// and restarts against the same NVM-backed memory:
//
//   - [Volatile]: no persistence guarantee. A crash loses everything.
//   - [Durable]: durably linearizable. Every operation that completes
//     before a crash is recoverable afterward, including one whose return
//     value the caller never got to observe.
//   - [Detectable]: durably linearizable and detectable. A thread can ask,
//     after recovery, whether its last in-flight call took effect, and if
//     so what it returned.
//   - [BufferedRelaxed]: buffered durably linearizable. Enqueue and Dequeue run
//     entirely in volatile memory at full speed; a separate [BufferedRelaxed.Sync]
//     call is what advances the durable snapshot.
//
// # Quick Start
//
//	q := pmq.NewVolatile[Event]()
//	q := pmq.NewDurable[Event](threadCount)
//	q := pmq.NewDetectable[Event](threadCount)
//	q := pmq.NewBufferedRelaxed[Event]()
//
// # Basic Usage
//
// Volatile is the baseline: plain concurrent enqueue/dequeue, no thread
// identity, no recovery story.
//
//	q := pmq.NewVolatile[int]()
//	q.Enqueue(42)
//	v, err := q.Dequeue()
//	if pmq.IsEmpty(err) {
//	    // queue observed empty
//	}
//
// Durable requires every caller to identify itself by a stable thread id
// in [0, threadCount), because that is where its recovery state lives:
//
//	q := pmq.NewDurable[int](numWorkers)
//	q.Enqueue(42)             // no thread id needed to insert
//	v, err := q.Dequeue(tid)  // tid identifies the remover
//
//	// After a crash, reconstruct q from the same NVM region, then:
//	v, ok, err := q.Recover(tid)
//	// ok is false only if tid never called Dequeue in the crashed process.
//	// err is pmq.ErrEmpty if that last Dequeue observed the queue empty
//	// or had not yet removed a value when the crash hit.
//
// Detectable adds operation numbers on top of thread ids, recorded in each
// call's log entry (recovery replays each thread's latest entry and does
// not compare operation numbers), and exposes what the operation actually
// did via Outcome:
//
//	q := pmq.NewDetectable[int](numWorkers)
//	q.Enqueue(42, tid, opNum)
//	v, err := q.Dequeue(tid, opNum)
//
//	// After a crash, reconstruct q from the same NVM-backed memory, then:
//	q.Recover(q.Logs())
//	outcome := q.Outcome(tid)
//	if outcome.Completed && !outcome.Empty {
//	    // outcome.Value is what that thread's last Dequeue actually removed
//	}
//
// BufferedRelaxed decouples the hot path from persistence entirely:
//
//	q := pmq.NewBufferedRelaxed[int]()
//	q.Enqueue(42)
//	q.Enqueue(43)
//	q.Sync(tid) // now 42 and 43 (and everything before them) are durable
//	v, err := q.Dequeue()
//
// # Failure Semantics
//
// What a caller can assume survived a crash, by variant:
//
//	Variant         | Guarantee
//	----------------|--------------------------------------------------
//	Volatile        | none: assume the queue is gone
//	Durable         | every Enqueue/Dequeue that returned before the crash
//	Detectable      | same as Durable, plus: the in-flight call at crash
//	                | time is replayed and its outcome is queryable
//	BufferedRelaxed | every Enqueue before the last completed Sync;
//	                | nothing enqueued after it
//
// # Persistence Primitive
//
// Durable, Detectable and BufferedRelaxed are built on a [Barrier]: a cache-line
// flush paired with a store fence. [DefaultBarrier] is a portable
// implementation that folds the flush into a no-op (there is no portable
// CLFLUSH exposed by the Go toolchain without cgo) and relies on its fence
// for the real ordering guarantee: systems without real NVM may treat this
// primitive as a pure store fence. Supply a
// different [Barrier] via the *WithBarrier constructors to model real NVM
// hardware, or to make crash points observable in a test.
//
// # Thread Identity
//
// Durable and Detectable take a threadCount at construction and expect
// every caller to use a distinct, stable id in [0, threadCount) across
// the lifetime of the queue, including across a crash and restart. The
// per-thread recovery slots are indexed by that id. Volatile and BufferedRelaxed
// have no such requirement, since they make no per-caller recovery claim.
//
// # Error Handling
//
// Dequeue returns [ErrEmpty] when the queue is observed empty. This error
// is sourced from [code.hybscloud.com/iox] for ecosystem consistency with
// other non-blocking data structures.
//
//	pmq.IsEmpty(err)      // true if the queue was empty
//	pmq.IsSemantic(err)   // true if control flow signal
//	pmq.IsNonFailure(err) // true if nil or ErrEmpty
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit memory
// ordering, and [code.hybscloud.com/spin] for CPU pause instructions during
// CAS retry loops.
package pmq
