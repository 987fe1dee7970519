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

// Pool is a free list of *T built on top of Queue: its initial contents
// are capacity freshly allocated, zeroed elements. Acquire blocks until
// one is available (or the pool is shut down); Release resets the
// element and returns it.
type Pool[T any] struct {
	q     *Queue[*T]
	reset func(*T)
}

// New creates a pool of capacity elements, each allocated by new and
// handed to reset (if non-nil) before first use. reset is invoked again
// every time an element is released, so a released element never
// leaks the previous owner's state to the next Acquire.
func New[T any](capacity int, reset func(*T)) *Pool[T] {
	p := &Pool[T]{q: NewQueue[*T](capacity), reset: reset}
	for i := 0; i < capacity; i++ {
		elem := new(T)
		if reset != nil {
			reset(elem)
		}
		p.q.Push(elem)
	}
	return p
}

// Acquire blocks until a free element is available, or the pool has
// been shut down, in which case it returns nil.
func (p *Pool[T]) Acquire() *T {
	elem, ok := p.q.Pop(true)
	if !ok {
		return nil
	}
	return elem
}

// Release resets elem and returns it to the free list. Release on a
// shut-down pool silently drops elem.
func (p *Pool[T]) Release(elem *T) {
	if p.reset != nil {
		p.reset(elem)
	}
	p.q.Push(elem)
}

// Shutdown is irreversible and wakes every blocked Acquire, which then
// returns nil.
func (p *Pool[T]) Shutdown() {
	p.q.Shutdown()
}

// Len returns the number of elements currently free.
func (p *Pool[T]) Len() int {
	return p.q.Len()
}
