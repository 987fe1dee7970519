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
	"time"

	"lab.nexedi.com/kirr/mctp/go/internal/log"
	"lab.nexedi.com/kirr/mctp/go/internal/task"
	"lab.nexedi.com/kirr/mctp/go/wire"
)

// reassembler is the packet-reader stage: it turns the stream of inbound
// packets on RPQ into whole messages on RMQ. pkt_seq and tags are owned
// exclusively by this goroutine — no other stage touches them, so
// neither needs a lock.
type reassembler struct {
	conn *Conn

	pktSeq uint8
	tags   [NumTags]*wire.Message
}

// run drains RPQ until it is shut down or ctx is canceled.
func (r *reassembler) run(ctx context.Context) (err error) {
	ctx = task.Running(ctx, "reassembler")
	defer task.ErrContext(&err, ctx)

	c := r.conn
	for {
		p, ok := c.Queues.RPQ.Pop(true)
		if !ok {
			return nil
		}
		r.step(ctx, p)
	}
}

func (r *reassembler) step(ctx context.Context, p *wire.Packet) {
	c := r.conn
	st := c.Stats

	if log.Enabled(c.Config.Verbose(), log.VPacket) {
		log.Infof(ctx, "reassembler: recv %s", p)
	}

	drop := func() {
		c.Pools.Packets.Release(p)
	}

	// step 1: header version
	if p.HdrVersion() != wire.Version {
		st.DroppedVersion.Add(1)
		drop()
		return
	}

	tag := p.Tag()

	// step 2: sequence continuity
	if r.pktSeq != p.Seq() {
		if r.tags[tag] != nil {
			c.Pools.Messages.Release(r.tags[tag])
			r.tags[tag] = nil
		}
		st.DroppedSeqnum.Add(1)

		if !p.SOM() {
			drop()
			return
		}
		r.pktSeq = p.Seq()
	}

	// step 3: SOM with a still-open prior message on this tag
	if p.SOM() && r.tags[tag] != nil {
		c.Pools.Messages.Release(r.tags[tag])
		r.tags[tag] = nil
		st.DroppedNoEOM.Add(1)
	}

	// step 4: continuation with no open message on this tag
	if !p.SOM() && r.tags[tag] == nil {
		st.DroppedNoSOM.Add(1)
		drop()
		return
	}

	// step 5: tag-owner stability
	if r.tags[tag] != nil && p.TagOwner() != r.tags[tag].TagOwner {
		c.Pools.Messages.Release(r.tags[tag])
		r.tags[tag] = nil
		st.DroppedWrongTO.Add(1)
		drop()
		return
	}

	// step 6/7: accumulate payload
	if p.SOM() {
		mm := c.Pools.Messages.Acquire()
		if mm == nil { // pool shut down
			drop()
			return
		}
		mm.BeginSOM(p, time.Now())
		r.tags[tag] = mm
	} else {
		r.tags[tag].Append(p)
	}

	// step 8: EOM closes the message out
	if p.EOM() {
		mm := r.tags[tag]
		mm.Finish()
		if log.Enabled(c.Config.Verbose(), log.VMessage) {
			log.Infof(ctx, "reassembler: complete msg tag=%d len=%d", mm.Tag, mm.Len)
		}
		if !c.Queues.RMQ.Push(mm) {
			st.DroppedCount.Add(1)
			c.Pools.Messages.Release(mm)
		} else {
			st.MessageCount.Add(1)
		}
		r.tags[tag] = nil
	}

	// step 9: advance expected sequence. Packets dropped above (steps
	// 1/2/4/5) return before reaching here, so pktSeq only advances on
	// packets actually accepted; a dropped packet's slot is recovered by
	// the next SOM's resync at step 2 rather than by this counter
	// ticking through the gap.
	r.pktSeq = (r.pktSeq + 1) % 4

	// step 10: return the packet slot
	c.Pools.Packets.Release(p)
}
