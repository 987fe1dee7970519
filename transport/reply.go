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

import "time"

// Reply builds a response message for an inbound request action a
// (a.Request must be set, a.Response must not be) and hands it to the
// fragmenter. It is the helper request handlers (mctpctrl and friends)
// use instead of touching Pools/Queues directly.
func (c *Conn) Reply(a *Action, typ uint8, payload []byte) {
	req := a.Request

	resp := c.Pools.Messages.Acquire()
	if resp == nil { // pool shut down
		c.retire(a)
		return
	}
	resp.Dest = req.Src
	resp.Src = req.Dest
	resp.TagOwner = false
	resp.Tag = req.Tag
	resp.Type = typ
	resp.Created = time.Now()
	resp.Len = copy(resp.Payload[:], payload)

	a.Response = resp

	if !c.Queues.TMQ.Push(a) {
		c.Stats.DroppedCount.Add(1)
		c.retire(a)
	}
}

// Drop retires a request action without sending any response, used by
// handlers for requests they cannot or choose not to answer. The
// requester's own retry/timeout governs what happens next.
func (c *Conn) Drop(a *Action) {
	c.retire(a)
}
