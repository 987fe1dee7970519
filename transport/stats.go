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

import "sync/atomic"

// Stats holds the per-stage counters the design calls out by name. All
// fields are updated with atomic adds so the debug/stats endpoint can
// read them without taking any stage's lock.
type Stats struct {
	DroppedVersion  atomic.Uint64
	DroppedSeqnum   atomic.Uint64
	DroppedNoEOM    atomic.Uint64
	DroppedNoSOM    atomic.Uint64
	DroppedWrongTO  atomic.Uint64
	DroppedCount    atomic.Uint64 // backpressure drops, any full downstream queue
	MessageCount    atomic.Uint64 // messages successfully reassembled
	PacketCount     atomic.Uint64 // packets built by the fragmenter
	CompletedCount  atomic.Uint64
	SuccessfulCount atomic.Uint64
	FailedCount     atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats suitable for JSON encoding.
type Snapshot struct {
	DroppedVersion  uint64
	DroppedSeqnum   uint64
	DroppedNoEOM    uint64
	DroppedNoSOM    uint64
	DroppedWrongTO  uint64
	DroppedCount    uint64
	MessageCount    uint64
	PacketCount     uint64
	CompletedCount  uint64
	SuccessfulCount uint64
	FailedCount     uint64
}

// Snapshot reads all counters into a plain value.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		DroppedVersion:  s.DroppedVersion.Load(),
		DroppedSeqnum:   s.DroppedSeqnum.Load(),
		DroppedNoEOM:    s.DroppedNoEOM.Load(),
		DroppedNoSOM:    s.DroppedNoSOM.Load(),
		DroppedWrongTO:  s.DroppedWrongTO.Load(),
		DroppedCount:    s.DroppedCount.Load(),
		MessageCount:    s.MessageCount.Load(),
		PacketCount:     s.PacketCount.Load(),
		CompletedCount:  s.CompletedCount.Load(),
		SuccessfulCount: s.SuccessfulCount.Load(),
		FailedCount:     s.FailedCount.Load(),
	}
}
