// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/pmq"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBufferedRelaxedBasic(t *testing.T) {
	q := pmq.NewBufferedRelaxed[int]()

	if _, err := q.Dequeue(); !pmq.IsEmpty(err) {
		t.Fatalf("empty dequeue: got %v, want ErrEmpty", err)
	}

	for i := range 4 {
		q.Enqueue(i + 100)
	}

	for i := range 4 {
		val, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		if val != i+100 {
			t.Fatalf("Dequeue(%d): got %d, want %d", i, val, i+100)
		}
	}
}

// TestBufferedRelaxedSyncAdvancesSnapshot checks that Sync moves the durable
// snapshot's version forward and makes the latest tail durable.
func TestBufferedRelaxedSyncAdvancesSnapshot(t *testing.T) {
	q := pmq.NewBufferedRelaxed[int]()
	before := q.LastDurable()

	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	q.Sync(0)

	after := q.LastDurable()
	require.Greater(t, after.Version, before.Version)
	require.Equal(t, 3, after.Tail)
}

// TestBufferedRelaxedSyncDoesNotBlockEnqueue runs Enqueue concurrently with
// repeated Sync calls, then drains the queue and checks that every enqueued
// value comes out exactly once.
func TestBufferedRelaxedSyncDoesNotBlockEnqueue(t *testing.T) {
	n := 2000
	if pmq.RaceEnabled {
		n = 200
	}
	q := pmq.NewBufferedRelaxed[int]()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range n {
			q.Enqueue(i)
		}
	}()
	go func() {
		defer wg.Done()
		for range n / 10 {
			q.Sync(0)
		}
	}()
	wg.Wait()
	q.Sync(0)

	seen := make(map[int]bool)
	for {
		v, err := q.Dequeue()
		if pmq.IsEmpty(err) {
			break
		}
		require.NoError(t, err)
		require.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
	}
	require.Len(t, seen, n)
}

// TestBufferedRelaxedRapid checks FIFO order against a plain slice model while Sync
// calls are interleaved; Sync must never change what Dequeue observes.
func TestBufferedRelaxedRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := pmq.NewBufferedRelaxed[int]()
		var model []int

		t.Repeat(map[string]func(*rapid.T){
			"enqueue": func(t *rapid.T) {
				v := rapid.Int().Draw(t, "value")
				q.Enqueue(v)
				model = append(model, v)
			},
			"dequeue": func(t *rapid.T) {
				got, err := q.Dequeue()
				if len(model) == 0 {
					require.True(t, pmq.IsEmpty(err))
					return
				}
				require.NoError(t, err)
				require.Equal(t, model[0], got)
				model = model[1:]
			},
			"sync": func(t *rapid.T) {
				q.Sync(0)
			},
		})
	})
}
