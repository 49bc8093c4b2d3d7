// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package pmq

// RaceEnabled is true when the race detector is active. Stress tests use
// it to cut down goroutine/iteration counts, since the race detector's
// instrumentation overhead turns a fast concurrent test into a slow one
// without adding coverage.
const RaceEnabled = true
