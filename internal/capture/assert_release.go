// SPDX-License-Identifier: MIT
//go:build !meterdebug

package capture

const meterAssertions = false
