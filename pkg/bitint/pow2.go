// SPDX-License-Identifier: MIT

/*
Package bitint holds the power-of-two helpers used to size FFT windows.

	size := bitint.NextPowerOfTwo(3000) // 4096, enough for 250 ms at 12 kHz
	ok := bitint.IsPowerOfTwo(size)

Both functions are branch-light and allocation free.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// size <= 0. Subtracting one first keeps exact powers unchanged:
//
//	Input  Output
//	4      4
//	5      8
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two
// has one bit set, so clearing the lowest set bit leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FramesToPowerOfTwo returns the FFT size covering durationMs of audio at
// sampleRate.
func FramesToPowerOfTwo(sampleRate, durationMs int) int {
	return NextPowerOfTwo(sampleRate * durationMs / 1000)
}
