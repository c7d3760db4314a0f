// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package ratex

import (
	"math/rand/v2"
	"time"
)

// Jittered computes the delay before retry attempt n (0-indexed) using
// full exponential backoff with jitter: base * 2^n, jittered uniformly in
// [0.5x, 1.5x). This is the per-task retry schedule of spec §4.1/§4.4
// ("0.5s × 2^n with jitter").
func Jittered(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the shift to avoid overflow on pathological attempt counts.
	shift := attempt
	if shift > 20 {
		shift = 20
	}
	d := base << shift
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}
