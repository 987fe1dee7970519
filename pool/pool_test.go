// Copyright (C) 2024-2026  Nexedi SA and Contributors.
//                          Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// You can also Link and Combine this program with other software covered by
// the terms of any of the Free Software licenses or any of the Open Source
// Initiative approved licenses and Convey the resulting work. Corresponding
// source of such a combination shall include the source code for all other
// software used.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.
// See https://www.nexedi.com/licensing for rationale and options.

package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type elem struct {
	tag int
	n   int
}

func TestPoolAcquireReleaseIsZeroed(t *testing.T) {
	p := New[elem](2, func(e *elem) { *e = elem{} })

	a := p.Acquire()
	require.NotNil(t, a)
	a.tag, a.n = 3, 7

	b := p.Acquire()
	require.NotNil(t, b)
	require.Equal(t, 0, b.n, "freshly allocated elements start zeroed")

	p.Release(a)
	require.Equal(t, 1, p.Len())

	c := p.Acquire()
	require.Same(t, a, c, "released element comes back out (free list, not allocator)")
	require.Equal(t, 0, c.n, "Release resets before the element re-enters the free list")
}

func TestPoolExhaustionBlocksUntilRelease(t *testing.T) {
	p := New[elem](1, nil)
	a := p.Acquire()
	require.NotNil(t, a)

	done := make(chan *elem)
	go func() {
		done <- p.Acquire()
	}()

	select {
	case <-done:
		t.Fatal("Acquire returned before any element was released")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(a)

	select {
	case got := <-done:
		require.Same(t, a, got)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Release")
	}
}

func TestPoolShutdownUnblocksAcquire(t *testing.T) {
	p := New[elem](0, nil)

	done := make(chan *elem)
	go func() {
		done <- p.Acquire()
	}()

	time.Sleep(10 * time.Millisecond)
	p.Shutdown()

	select {
	case got := <-done:
		require.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not unblock Acquire")
	}
}
