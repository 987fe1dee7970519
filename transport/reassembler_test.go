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
	"testing"

	"github.com/stretchr/testify/require"

	"lab.nexedi.com/kirr/mctp/go/config"
	"lab.nexedi.com/kirr/mctp/go/wire"
)

func newTestConn() *Conn {
	return New(config.Default(), ModeClient, "tcp", "")
}

func somPacket(tag uint8, typ byte, body []byte) *wire.Packet {
	var p wire.Packet
	p.SetHdrVersion(wire.Version)
	p.SetDest(0x02)
	p.SetSrc(0x01)
	p.SetTag(tag)
	p.SetTagOwner(true)
	p.SetSOM(true)
	payload := p.Payload()
	payload[0] = typ
	copy(payload[1:], body)
	return &p
}

func TestReassemblerSingleSOMEOMPacket(t *testing.T) {
	c := newTestConn()
	r := &reassembler{conn: c}
	ctx := context.Background()

	p := somPacket(2, wire.TypeControl, []byte("hi"))
	p.SetEOM(true)

	r.step(ctx, p)

	msg, ok := c.Queues.RMQ.Pop(false)
	require.True(t, ok)
	require.Equal(t, wire.TypeControl, msg.Type)
	require.Equal(t, "hi", string(msg.Payload[:msg.Len]))
	require.EqualValues(t, 1, c.Stats.Snapshot().MessageCount)
}

func TestReassemblerMultiPacketReassembly(t *testing.T) {
	c := newTestConn()
	r := &reassembler{conn: c}
	ctx := context.Background()

	som := somPacket(0, wire.TypeControl, nil)
	for i := 1; i < wire.BTULen; i++ {
		som.Payload()[i] = byte(i)
	}
	r.step(ctx, som)

	var cont wire.Packet
	cont.SetHdrVersion(wire.Version)
	cont.SetTag(0)
	cont.SetTagOwner(true)
	cont.SetSeq(1)
	cont.SetEOM(true)
	for i := range cont.Payload() {
		cont.Payload()[i] = byte(0x80 + i)
	}
	r.step(ctx, &cont)

	msg, ok := c.Queues.RMQ.Pop(false)
	require.True(t, ok)
	require.Equal(t, 2*wire.BTULen-1, msg.Len)
	for i := 1; i < wire.BTULen; i++ {
		require.Equal(t, byte(i), msg.Payload[i-1])
	}
	for i := 0; i < wire.BTULen; i++ {
		require.Equal(t, byte(0x80+i), msg.Payload[wire.BTULen-1+i])
	}
}

func TestReassemblerDropsWrongVersion(t *testing.T) {
	c := newTestConn()
	r := &reassembler{conn: c}

	p := somPacket(0, wire.TypeControl, nil)
	p.SetHdrVersion(0)
	r.step(context.Background(), p)

	require.EqualValues(t, 1, c.Stats.Snapshot().DroppedVersion)
	_, ok := c.Queues.RMQ.Pop(false)
	require.False(t, ok)
}

func TestReassemblerDropsContinuationWithoutSOM(t *testing.T) {
	c := newTestConn()
	r := &reassembler{conn: c}

	var p wire.Packet
	p.SetHdrVersion(wire.Version)
	p.SetSOM(false)
	p.SetEOM(true)
	r.step(context.Background(), &p)

	require.EqualValues(t, 1, c.Stats.Snapshot().DroppedNoSOM)
	_, ok := c.Queues.RMQ.Pop(false)
	require.False(t, ok)
}

func TestReassemblerDuplicateSOMDropsPriorMessage(t *testing.T) {
	c := newTestConn()
	r := &reassembler{conn: c}
	ctx := context.Background()

	first := somPacket(1, wire.TypeControl, []byte("abandoned"))
	r.step(ctx, first)
	require.NotNil(t, r.tags[1])

	second := somPacket(1, wire.TypeControl, []byte("fresh"))
	second.SetSeq(0)
	r.pktSeq = 0
	second.SetEOM(true)
	r.step(ctx, second)

	require.EqualValues(t, 1, c.Stats.Snapshot().DroppedNoEOM)

	msg, ok := c.Queues.RMQ.Pop(false)
	require.True(t, ok)
	require.Equal(t, "fresh", string(msg.Payload[:msg.Len]))
}

func TestReassemblerOutOfSequenceDropsContinuation(t *testing.T) {
	c := newTestConn()
	r := &reassembler{conn: c}
	ctx := context.Background()

	som := somPacket(3, wire.TypeControl, []byte("partial"))
	r.step(ctx, som)
	require.NotNil(t, r.tags[3])

	var cont wire.Packet
	cont.SetHdrVersion(wire.Version)
	cont.SetTag(3)
	cont.SetTagOwner(true)
	cont.SetSeq(3) // expected is 1, not 3: out of sequence
	cont.SetEOM(true)
	r.step(ctx, &cont)

	require.EqualValues(t, 1, c.Stats.Snapshot().DroppedSeqnum)
	require.Nil(t, r.tags[3])
	_, ok := c.Queues.RMQ.Pop(false)
	require.False(t, ok)
}

func TestReassemblerTagOwnerMismatchDrops(t *testing.T) {
	c := newTestConn()
	r := &reassembler{conn: c}
	ctx := context.Background()

	som := somPacket(4, wire.TypeControl, []byte("req"))
	r.step(ctx, som) // TagOwner=true

	var cont wire.Packet
	cont.SetHdrVersion(wire.Version)
	cont.SetTag(4)
	cont.SetTagOwner(false) // flips ownership mid-message
	cont.SetSeq(1)
	cont.SetEOM(true)
	r.step(ctx, &cont)

	require.EqualValues(t, 1, c.Stats.Snapshot().DroppedWrongTO)
	require.Nil(t, r.tags[4])
}
