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

// Package transport implements the seven-stage MCTP pipeline: socket
// reader, packet reassembler, message dispatcher, packet fragmenter,
// socket writer, submission/retry scheduler and completion, connected by
// the bounded queues and pools of package pool and supervised by Conn.
package transport

import (
	"sync/atomic"
	"time"

	"lab.nexedi.com/kirr/mctp/go/wire"
)

// DefaultRetry is used when Submit is called with retry = RetryDefault.
const DefaultRetry = 8

// Retry sentinels accepted by Submit, mirroring the original library's
// -1/-2 convention.
const (
	RetryForever = -1
	RetryDefault = -2
)

// Action is one in-flight submission: its request, an optional response,
// the packet chain fragmenting whichever of the two is outbound, retry
// bookkeeping and the callbacks/handle a caller uses to learn the
// outcome.
//
// Rather than a semaphore plus fn_submitted/fn_completed/fn_failed
// function pointers, Action exposes a one-shot channel (Done) that a
// waiting Submit caller receives from exactly once — the callbacks are
// kept too, since handlers may want a side-effecting continuation
// independent of whether anyone is waiting on Done.
type Action struct {
	Request  *wire.Message
	Response *wire.Message

	// Packets is the packet chain fragmenting the outbound message, in
	// wire order. Built by the fragmenter, walked by the socket writer.
	Packets []*wire.Packet

	Created   time.Time
	Submitted time.Time
	Completed time.Time

	CompletionCode int
	Num            int
	Max            int
	UserData       interface{}

	FnSubmitted func(*Action)
	FnCompleted func(*Action)
	FnFailed    func(*Action)

	// Done is closed exactly once, after Response/CompletionCode have
	// their final values, handing ownership of a to the Submit call
	// waiting on it — that caller must call Conn.Release(a) once done
	// reading it. A Submit call with a non-zero timeout receives from
	// Done; a fire-and-forget Submit (timeout == 0) never does, and a
	// is retired automatically instead.
	Done chan struct{}

	// Tag is the tag-table slot this action currently occupies, valid
	// only while the action is promoted (see tagTable).
	Tag uint8

	// claimed arbitrates, exactly once, which of "a completion path" or
	// "a timed-out Submit giving up" retires a — whichever CAS loses
	// must not touch the action again.
	claimed atomic.Bool
}

// Reset clears an Action back to its zero value so a released Action
// never leaks a previous submission's state into the next acquire. It
// does not touch Packets' backing array capacity, only its length, so
// the slice can be reused without reallocating.
func (a *Action) Reset() {
	a.Request = nil
	a.Response = nil
	a.Packets = a.Packets[:0]
	a.Created = time.Time{}
	a.Submitted = time.Time{}
	a.Completed = time.Time{}
	a.CompletionCode = 0
	a.Num = 0
	a.Max = 0
	a.UserData = nil
	a.FnSubmitted = nil
	a.FnCompleted = nil
	a.FnFailed = nil
	a.Done = nil
	a.Tag = 0
	a.claimed.Store(false)
}

// normalizeRetry maps the -1/-2 sentinels onto the max retry count.
func normalizeRetry(retry int) int {
	switch {
	case retry == RetryDefault:
		return DefaultRetry
	case retry == RetryForever:
		return 1<<31 - 1 // effectively unbounded; Num never catches Max
	case retry < 0:
		return DefaultRetry
	default:
		return retry
	}
}
