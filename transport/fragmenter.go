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

import (
	"context"

	"lab.nexedi.com/kirr/mctp/go/internal/task"
	"lab.nexedi.com/kirr/mctp/go/wire"
)

// fragmenter is the packet-writer stage: TMQ in (actions ready to send),
// TPQ out (same actions, now carrying a fully built packet chain). There
// is no per-action sequence counter: the pktSeq field, one per
// connection, advances across every action's packet chain.
type fragmenter struct {
	conn *Conn

	pktSeq uint8
}

func (f *fragmenter) run(ctx context.Context) (err error) {
	ctx = task.Running(ctx, "fragmenter")
	defer task.ErrContext(&err, ctx)

	c := f.conn
	for {
		a, ok := c.Queues.TMQ.Pop(true)
		if !ok {
			return nil
		}
		if !f.step(a) {
			return nil // pool shut down mid-acquire
		}
	}
}

func (f *fragmenter) step(a *Action) bool {
	c := f.conn

	// a resubmitted action still carries its previous attempt's chain;
	// release it before building a fresh one instead of appending onto it.
	for _, p := range a.Packets {
		c.Pools.Packets.Release(p)
	}
	a.Packets = a.Packets[:0]

	msg := a.Response
	if msg == nil {
		msg = a.Request
	}

	n := msg.PacketCount()
	if n == 0 {
		n = 1 // degenerate zero-length message still needs one SOM=EOM packet
	}

	for i := 0; i < n; i++ {
		p := c.Pools.Packets.Acquire()
		if p == nil {
			return false
		}

		p.SetHdrVersion(wire.Version)
		p.SetDest(msg.Dest)
		p.SetSrc(msg.Src)
		p.SetTagOwner(msg.TagOwner)
		p.SetTag(msg.Tag)
		p.SetSeq(f.pktSeq)
		f.pktSeq = (f.pktSeq + 1) % 4
		p.SetSOM(i == 0)
		p.SetEOM(i == n-1)

		payload := p.Payload()
		if i == 0 {
			payload[0] = msg.Type
			lo := 0
			hi := wire.BTULen - 1
			if hi > msg.Len {
				hi = msg.Len
			}
			copy(payload[1:], msg.Payload[lo:hi])
		} else {
			lo := wire.BTULen*i - 1
			hi := lo + wire.BTULen
			if hi > msg.Len {
				hi = msg.Len
			}
			if lo < hi {
				copy(payload, msg.Payload[lo:hi])
			}
		}

		a.Packets = append(a.Packets, p)
	}

	c.Stats.PacketCount.Add(uint64(n))

	if !c.Queues.TPQ.Push(a) {
		c.Stats.DroppedCount.Add(1)
		for _, p := range a.Packets {
			c.Pools.Packets.Release(p)
		}
		a.Packets = a.Packets[:0]
		c.finish(a)
	}
	return true
}
