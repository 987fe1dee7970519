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

package transport

import "sync"

// NumTags is the number of concurrently outstanding request tags a
// connection supports (DSP0236's 3-bit tag field).
const NumTags = 8

// tagTable is the shared slot array correlating outbound requests with
// their eventual inbound responses. It is consulted by the scheduler
// (promotion, sweep/retire) and the dispatcher (response pairing); both
// hold its single mutex for the whole of their critical section. The
// dispatcher releases it before doing anything else; the scheduler holds
// it across its non-blocking TMQ pushes.
type tagTable struct {
	mu   sync.Mutex
	slot [NumTags]*Action
}

// lowestFree returns the lowest-index empty slot, or -1 if all NumTags
// slots are occupied. Caller must hold mu.
func (t *tagTable) lowestFree() int {
	for i := range t.slot {
		if t.slot[i] == nil {
			return i
		}
	}
	return -1
}

// take clears and returns the action at tag, or nil if the slot was
// already empty. Used by the dispatcher to pair an inbound response.
func (t *tagTable) take(tag uint8) *Action {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.slot[tag]
	t.slot[tag] = nil
	return a
}
