// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDetectableRecoverFinishesPartialInsert is boundary scenario 6: a
// thread's last log is an insert whose node was allocated but never linked
// into the list (status false). A real crash can land exactly there,
// between createEnqLog and the CAS that links the node in; nothing
// short of calling the unexported log-creation step directly can reproduce
// that half-finished state from a single-threaded test, since Enqueue
// always runs the linking loop to completion before returning. Recover
// must link the node in and mark its log complete.
func TestDetectableRecoverFinishesPartialInsert(t *testing.T) {
	q := NewDetectable[int](2)
	q.Enqueue(1, 0, 0)

	node := q.createEnqLog(42, 1, 0)
	require.False(t, node.loadLogEnq().status.LoadAcquire())

	oldLogs := q.Logs()
	q.Recover(oldLogs)

	outcome := q.Outcome(1)
	require.True(t, outcome.Completed, "partial insert must be finished by Recover")

	v1, err := q.Dequeue(0, 1)
	require.NoError(t, err)
	v2, err := q.Dequeue(0, 2)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{1, 42}, []int{v1, v2})

	_, err = q.Dequeue(0, 3)
	require.True(t, IsEmpty(err))
}
