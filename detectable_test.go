// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/pmq"
	"github.com/stretchr/testify/require"
)

func TestDetectableBasic(t *testing.T) {
	q := pmq.NewDetectable[int](4)

	if _, err := q.Dequeue(0, 0); !pmq.IsEmpty(err) {
		t.Fatalf("empty dequeue: got %v, want ErrEmpty", err)
	}

	for i := range 4 {
		q.Enqueue(i+100, 0, i)
	}

	for i := range 4 {
		val, err := q.Dequeue(0, 4+i)
		if err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		if val != i+100 {
			t.Fatalf("Dequeue(%d): got %d, want %d", i, val, i+100)
		}
	}
}

// TestDetectableOutcomeBeforeRecover checks that Outcome reports NotInFlight
// on a queue that has never had Recover called.
func TestDetectableOutcomeBeforeRecover(t *testing.T) {
	q := pmq.NewDetectable[int](4)
	outcome := q.Outcome(1)
	require.True(t, outcome.NotInFlight)
}

// TestDetectableRecoverPreservesStructure checks that calling Recover with
// no surviving logs (the case when every thread's last operation already
// completed before the crash) leaves a normally-built queue's structure
// and contents untouched.
func TestDetectableRecoverPreservesStructure(t *testing.T) {
	q := pmq.NewDetectable[int](2)
	q.Enqueue(1, 0, 0)
	q.Enqueue(2, 1, 0)

	logs := make([]*pmq.LogEntry[int], 2)
	q.Recover(logs)

	v1, err := q.Dequeue(0, 1)
	require.NoError(t, err)
	v2, err := q.Dequeue(0, 2)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{1, 2}, []int{v1, v2})
}

// TestDetectableRecoverSkipsCompletedInsert is boundary scenario 5: a
// thread's last log is an insert whose node is already linked in and whose
// status is confirmed. Recover must leave the queue's contents unchanged
// and report that thread's outcome as Completed rather than replaying the
// insert a second time.
func TestDetectableRecoverSkipsCompletedInsert(t *testing.T) {
	q := pmq.NewDetectable[int](2)
	q.Enqueue(11, 0, 0)
	q.Enqueue(22, 1, 0)

	oldLogs := q.Logs()
	q.Recover(oldLogs)

	outcome := q.Outcome(0)
	require.True(t, outcome.Completed, "already-linked insert must be reported completed")

	v1, err := q.Dequeue(0, 1)
	require.NoError(t, err)
	v2, err := q.Dequeue(0, 2)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{11, 22}, []int{v1, v2})

	_, err = q.Dequeue(0, 3)
	require.True(t, pmq.IsEmpty(err), "recovery must not have duplicated the insert")
}

// TestDetectableHelpingRace is boundary scenario 3: two threads race to
// dequeue the same node. Whichever thread loses the CAS on that node's
// remove log helps finish the winner's removal, advances head and retries
// on the next node, so both callers succeed with distinct values and
// neither blocks on the other.
func TestDetectableHelpingRace(t *testing.T) {
	q := pmq.NewDetectable[int](2)
	q.Enqueue(99, 0, 0)
	q.Enqueue(100, 0, 1)

	var wg sync.WaitGroup
	results := make([]int, 2)
	errs := make([]error, 2)
	wg.Add(2)
	for tid := range 2 {
		go func(tid int) {
			defer wg.Done()
			results[tid], errs[tid] = q.Dequeue(tid, 0)
		}(tid)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.ElementsMatch(t, []int{99, 100}, []int{results[0], results[1]})
}

// TestDetectableCrashResumptionFIFO drives dequeuers concurrently against a
// queue whose barrier crashes mid-flight, discarding every return value,
// then recovers via Logs/Recover and checks Outcome resolves every thread
// to Completed with the enqueued values recovered exactly once between
// them.
func TestDetectableCrashResumptionFIFO(t *testing.T) {
	const dequeuers = 20
	const enqueuerTID = dequeuers
	b := &fakeBarrier{}
	q := pmq.NewDetectableWithBarrier[int](dequeuers+1, b)
	for i := range dequeuers {
		q.Enqueue(i, enqueuerTID, i)
	}

	var wg sync.WaitGroup
	wg.Add(dequeuers)
	for tid := range dequeuers {
		go func(tid int) {
			defer wg.Done()
			q.Dequeue(tid, 0)
		}(tid)
	}
	b.Crash()
	wg.Wait()
	b.Restart()

	oldLogs := q.Logs()
	q.Recover(oldLogs)

	seen := make(map[int]int)
	for tid := range dequeuers {
		outcome := q.Outcome(tid)
		require.True(t, outcome.Completed, "tid %d: operation not resolved by recovery", tid)
		if !outcome.Empty {
			seen[outcome.Value]++
		}
	}
	for i := range dequeuers {
		require.Equal(t, 1, seen[i], "value %d not recovered exactly once across the crash", i)
	}
}

// TestDetectableOutcomeAllThreeStates exercises NotInFlight, Completed with
// a value, and Completed with Empty in a single Recover call, so the three
// states of the detection contract are each asserted explicitly. Thread 0
// never calls anything (not-done), thread 1 dequeues the one enqueued value
// (done(value)), thread 2 dequeues an already-empty queue (done(empty)); by
// the time Logs is read each of 1 and 2's operations already ran to
// completion, which Recover must recognize rather than re-execute.
func TestDetectableOutcomeAllThreeStates(t *testing.T) {
	q := pmq.NewDetectable[int](3)
	q.Enqueue(7, 1, 0)

	v, err := q.Dequeue(1, 0)
	require.NoError(t, err)
	require.Equal(t, 7, v)

	_, err = q.Dequeue(2, 0)
	require.True(t, pmq.IsEmpty(err))

	q.Recover(q.Logs())

	notInFlight := q.Outcome(0)
	require.True(t, notInFlight.NotInFlight)

	valueOutcome := q.Outcome(1)
	require.True(t, valueOutcome.Completed)
	require.False(t, valueOutcome.Empty)
	require.Equal(t, 7, valueOutcome.Value)

	emptyOutcome := q.Outcome(2)
	require.True(t, emptyOutcome.Completed)
	require.True(t, emptyOutcome.Empty)
}

// TestDetectableFIFOUnderConcurrency is the multi-producer FIFO-per-producer
// property check, as for Volatile, applied to Detectable.
func TestDetectableFIFOUnderConcurrency(t *testing.T) {
	const threads = 4
	perThread := 500
	if pmq.RaceEnabled {
		perThread = 50
	}

	q := pmq.NewDetectable[[2]int](threads)

	done := make(chan struct{}, threads)
	for tid := range threads {
		go func(tid int) {
			for i := range perThread {
				q.Enqueue([2]int{tid, i}, tid, i)
			}
			done <- struct{}{}
		}(tid)
	}
	for range threads {
		<-done
	}

	lastSeq := make([]int, threads)
	for i := range lastSeq {
		lastSeq[i] = -1
	}
	total := 0
	for {
		v, err := q.Dequeue(0, 1_000_000+total)
		if pmq.IsEmpty(err) {
			break
		}
		require.NoError(t, err)
		p, seq := v[0], v[1]
		if seq <= lastSeq[p] {
			t.Fatalf("producer %d: out-of-order, saw %d after %d", p, seq, lastSeq[p])
		}
		lastSeq[p] = seq
		total++
	}
	require.Equal(t, threads*perThread, total)
}
