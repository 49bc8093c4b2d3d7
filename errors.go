// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq

import "code.hybscloud.com/iox"

// ErrEmpty indicates a Dequeue observed the queue empty at the moment it
// tried to remove a node.
//
// Concurrently, "empty right now" and "would block" carry the same
// retry-later meaning, so ErrEmpty is an alias for [iox.ErrWouldBlock] for
// ecosystem consistency with the rest of the hybscloud queue packages.
//
// ErrEmpty is a control flow signal, not a failure: every operation in this
// package is total and ErrEmpty is the only non-nil error any
// of them ever return.
var ErrEmpty = iox.ErrWouldBlock

// IsEmpty reports whether err indicates a dequeue observed an empty queue.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsEmpty(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}
