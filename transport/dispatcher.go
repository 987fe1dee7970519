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

// Handler is invoked by the dispatcher for an inbound request (a.Request
// set, a.Response nil) or, absent a registered fn_completed, for an
// inbound response (a.Response set). It runs on the dispatcher goroutine
// — a slow handler stalls RMQ draining, exactly as in the original
// single-threaded dispatcher.
type Handler func(c *Conn, a *Action)

// dispatcher is the message-dispatcher stage: RMQ in, either a Handler
// invocation (requests) or an Action retirement-or-callback (responses).
type dispatcher struct {
	conn *Conn
}

func (d *dispatcher) run(ctx context.Context) (err error) {
	ctx = task.Running(ctx, "dispatcher")
	defer task.ErrContext(&err, ctx)

	c := d.conn
	for {
		msg, ok := c.Queues.RMQ.Pop(true)
		if !ok {
			return nil
		}
		d.step(ctx, msg)
	}
}

func (d *dispatcher) step(ctx context.Context, msg *wire.Message) {
	if msg.TagOwner {
		d.dispatchRequest(ctx, msg)
	} else {
		d.dispatchResponse(ctx, msg)
	}
}

func (d *dispatcher) dispatchRequest(ctx context.Context, msg *wire.Message) {
	c := d.conn

	h := c.handler(msg.Type)
	if h == nil {
		log.Warningf(ctx, "dispatcher: no handler for type %#x, dropping", msg.Type)
		c.Pools.Messages.Release(msg)
		return
	}

	a := c.Pools.Actions.Acquire()
	if a == nil { // pool shut down
		c.Pools.Messages.Release(msg)
		return
	}
	a.Request = msg
	a.Created = time.Now()

	h(c, a)
}

func (d *dispatcher) dispatchResponse(ctx context.Context, msg *wire.Message) {
	c := d.conn

	a := c.tags.take(msg.Tag)
	if a == nil {
		// stray response: no matching action, silently drop.
		c.Pools.Messages.Release(msg)
		return
	}

	a.Response = msg
	a.Completed = time.Now()

	if a.FnCompleted != nil {
		a.FnCompleted(a)
	} else if h := c.handler(msg.Type); h != nil {
		h(c, a)
	} else {
		c.finish(a)
	}
}
