// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bufpool

import "testing"

func TestGetReturnsEmptyBuffer(t *testing.T) {
	b := Get()
	b.WriteString("leftover")
	Put(b)

	b2 := Get()
	if b2.Len() != 0 {
		t.Errorf("pooled buffer not reset, len = %d", b2.Len())
	}
	Put(b2)
}

func TestPutDropsOversizedBuffers(t *testing.T) {
	b := Get()
	b.Grow(maxPooledCap + 1)
	Put(b) // must not panic; buffer is simply dropped
}
