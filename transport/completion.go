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

	"lab.nexedi.com/kirr/mctp/go/internal/task"
)

// completion is the final stage: ACQ in, success/failure accounting and
// either the action's fn_completed/fn_failed callback or retirement.
type completion struct {
	conn *Conn
}

func (co *completion) run(ctx context.Context) (err error) {
	ctx = task.Running(ctx, "completion")
	defer task.ErrContext(&err, ctx)

	c := co.conn
	for {
		a, ok := c.Queues.ACQ.Pop(true)
		if !ok {
			return nil
		}
		co.step(a)
	}
}

func (co *completion) step(a *Action) {
	c := co.conn
	a.Completed = time.Now()

	if a.CompletionCode != 0 {
		c.Stats.FailedCount.Add(1)
		if a.FnFailed != nil {
			a.FnFailed(a)
		} else {
			c.finish(a)
		}
		return
	}

	c.Stats.SuccessfulCount.Add(1)
	if a.FnCompleted != nil {
		a.FnCompleted(a)
	} else {
		c.retire(a)
	}
	c.Stats.CompletedCount.Add(1)
}
