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

// scheduler is the submission/retry stage: a periodic two-phase sweep
// over the tag table. Phase A retires or resubmits actions whose
// action_delta has elapsed; phase B promotes newly submitted actions
// from TAQ into any tag slot phase A (or a response) freed up.
//
// wake lets Submit nudge the scheduler to run a sweep
// immediately instead of waiting out the tick, the Go analogue of the
// "explicit wake flag" alongside the condition variable's absolute
// timeout.
type scheduler struct {
	conn *Conn
	wake chan struct{}
}

func newScheduler(c *Conn) *scheduler {
	return &scheduler{conn: c, wake: make(chan struct{}, 1)}
}

// nudge requests an out-of-cycle sweep; non-blocking, coalesces.
func (s *scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) run(ctx context.Context) (err error) {
	ctx = task.Running(ctx, "scheduler")
	defer task.ErrContext(&err, ctx)

	c := s.conn
	for {
		s.sweep()
		s.promote()

		tick := c.Config.SchedulerTick()
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-time.After(tick):
		}
	}
}

// sweep is Phase A: timeout/retry/retire, under the tag-table mutex for
// its whole duration.
func (s *scheduler) sweep() {
	c := s.conn
	delta := c.Config.ActionDelta()
	now := time.Now()

	c.tags.mu.Lock()
	defer c.tags.mu.Unlock()

	for tag := range c.tags.slot {
		a := c.tags.slot[tag]
		if a == nil {
			continue
		}
		if now.Sub(a.Submitted) < delta {
			continue
		}

		if a.Num >= a.Max {
			c.tags.slot[tag] = nil
			if a.FnFailed != nil {
				a.FnFailed(a)
			} else {
				c.finish(a)
			}
			continue
		}

		a.Num++
		a.Submitted = now
		if !c.Queues.TMQ.Push(a) {
			c.Stats.DroppedCount.Add(1)
			// leave it in the slot; it will be retried on the next sweep.
			a.Num--
		}
	}
}

// promote is Phase B: fill empty tag slots from TAQ, lowest index first.
func (s *scheduler) promote() {
	c := s.conn

	c.tags.mu.Lock()
	defer c.tags.mu.Unlock()

	for {
		tag := c.tags.lowestFree()
		if tag < 0 {
			return
		}

		a, ok := c.Queues.TAQ.Pop(false)
		if !ok {
			return
		}

		a.Num = 1
		a.Submitted = time.Now()
		a.Request.Tag = uint8(tag)
		a.Tag = uint8(tag)
		c.tags.slot[tag] = a

		if a.FnSubmitted != nil {
			a.FnSubmitted(a)
		}

		if !c.Queues.TMQ.Push(a) {
			c.Stats.DroppedCount.Add(1)
		}
	}
}
