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
	"io"
	"time"

	"lab.nexedi.com/kirr/mctp/go/internal/log"
	"lab.nexedi.com/kirr/mctp/go/internal/task"
)

// socketReader is the socket-reader stage: one blocking read of exactly
// PacketLen bytes per iteration, pushed to RPQ. A short read or any
// error is treated as connection loss — there is no partial-record
// retry, framing here is "read a fixed-size record or stop".
type socketReader struct {
	conn *Conn
}

func (r *socketReader) run(ctx context.Context) (err error) {
	ctx = task.Running(ctx, "socket-reader")
	defer task.ErrContext(&err, ctx)

	c := r.conn
	for {
		p := c.Pools.Packets.Acquire()
		if p == nil {
			return nil // pool shut down
		}

		if _, err := io.ReadFull(c.netConn, p[:]); err != nil {
			c.Pools.Packets.Release(p)
			log.Warningf(ctx, "socket-reader: %s", err)
			c.requestStop(abnormal)
			return nil
		}

		if !c.Queues.RPQ.Push(p) {
			c.Stats.DroppedCount.Add(1)
			c.Pools.Packets.Release(p)
			continue
		}
	}
}

// socketWriter is the socket-writer stage: TPQ in, walks each action's
// packet chain and sends every packet as one record.
type socketWriter struct {
	conn *Conn
}

func (w *socketWriter) run(ctx context.Context) (err error) {
	ctx = task.Running(ctx, "socket-writer")
	defer task.ErrContext(&err, ctx)

	c := w.conn
	for {
		a, ok := c.Queues.TPQ.Pop(true)
		if !ok {
			return nil
		}
		if !w.step(ctx, a) {
			return nil
		}
	}
}

func (w *socketWriter) step(ctx context.Context, a *Action) bool {
	c := w.conn

	for _, p := range a.Packets {
		if _, err := c.netConn.Write(p[:]); err != nil {
			log.Warningf(ctx, "socket-writer: %s", err)
			a.CompletionCode = 1
			if !c.Queues.ACQ.Push(a) {
				c.Stats.FailedCount.Add(1)
				c.finish(a)
			}
			c.requestStop(abnormal)
			return false
		}
	}
	a.Completed = time.Now()

	if a.Response != nil {
		// sending a response completes the action immediately.
		if !c.Queues.ACQ.Push(a) {
			c.Stats.DroppedCount.Add(1)
			c.retire(a)
		}
	}
	// a request that was just sent remains in the tag table, awaiting
	// either a response (dispatcher) or a retry/timeout (scheduler).
	return true
}
