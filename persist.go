// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// Barrier is the persistence primitive the Durable, Detectable and
// Buffered-Relaxed queues are built on: a cache-line writeback of one
// address, optionally followed by a store fence.
//
// Flush writes back the cache line containing addr to persistent storage.
// Fence orders every store issued before it ahead of every store issued
// after it. Neither returns an error: a crash during either call is by
// definition unobservable by the caller.
//
// Barrier is injectable so property and crash-recovery tests can run
// against a model barrier that records flushed addresses and can simulate
// "the crash happened here" by refusing to honor Flush calls past a given
// point, instead of needing real NVM hardware.
type Barrier interface {
	Flush(addr unsafe.Pointer)
	Fence()
}

// fenceWord is a dummy atomic word. Touching it with a read-modify-write
// atomic forces a full store fence on every architecture atomix targets,
// without needing an architecture-specific instruction.
var fenceWord atomix.Uint64

// defaultBarrier is the portable Barrier used when a queue is constructed
// without one.
//
// It has no hardware cache-line writeback to call: the Go assembler
// exposes no portable CLFLUSH/CLWB opcode without cgo, and the available
// dependency surface offers no wrapper for one either. Systems lacking
// real NVM may treat Barrier as a pure store fence. Flush is therefore a
// documented no-op; Fence carries the real ordering guarantee, and is
// what every algorithm in this package actually depends on for
// correctness in the absence of real NVM.
type defaultBarrier struct{}

func (defaultBarrier) Flush(unsafe.Pointer) {}

func (defaultBarrier) Fence() {
	fenceWord.AddAcqRel(1)
}

// DefaultBarrier is the zero-configuration Barrier every constructor in
// this package uses unless a variant's *WithBarrier constructor is used.
var DefaultBarrier Barrier = defaultBarrier{}

// barrier is flush(addr) followed by fence().
func barrier(b Barrier, addr unsafe.Pointer) {
	b.Flush(addr)
	b.Fence()
}

// barrierOpt is flush(addr) without a fence, used when a subsequent
// barrier or CAS is known to supply the ordering shortly after.
func barrierOpt(b Barrier, addr unsafe.Pointer) {
	b.Flush(addr)
}
