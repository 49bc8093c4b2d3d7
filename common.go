// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pmq

import "unsafe"

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padShort is padding to fill a cache line after an 8-byte field.
type padShort [64 - 8]byte

// toUintptr and fromUintptr round-trip a typed pointer through the
// uintptr bit pattern stored in an atomix.Uintptr. code.hybscloud.com/atomix
// exposes fixed-width scalar atomics (Uint64, Uintptr, Int64, Int32, Bool,
// Uint128) but no generic Pointer[T]; every atomic pointer field in this
// package is therefore an atomix.Uintptr carrying a pointer's bit pattern.
func toUintptr[P any](p *P) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func fromUintptr[P any](u uintptr) *P {
	return (*P)(unsafe.Pointer(u))
}

// toPointer converts a typed pointer to unsafe.Pointer for Barrier calls,
// which take an address rather than a typed pointer since they flush
// whatever cache line backs it regardless of Go type.
func toPointer[P any](p *P) unsafe.Pointer {
	return unsafe.Pointer(p)
}
