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

package wire

import (
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

func TestMessagePacketCountBoundaries(t *testing.T) {
	cases := []struct {
		len  int
		want int
	}{
		{0, 0},
		{1, 1},
		{BTULen, 1},
		{BTULen + 1, 2},
		{MaxMessageLen, 128},
	}
	for _, c := range cases {
		m := &Message{Len: c.len}
		require.Equal(t, c.want, m.PacketCount(), "len=%d", c.len)
	}
}

func TestMessageReassemblyRoundTrip(t *testing.T) {
	var m Message

	var som Packet
	som.SetHdrVersion(Version)
	som.SetDest(0x02)
	som.SetSrc(0x01)
	som.SetSOM(true)
	som.SetEOM(false)
	som.SetTag(1)
	som.SetTagOwner(true)
	payload := som.Payload()
	payload[0] = TypeControl
	for i := 1; i < BTULen; i++ {
		payload[i] = byte(i)
	}
	m.BeginSOM(&som, time.Now())

	var cont Packet
	cont.SetEOM(true)
	for i := range cont.Payload() {
		cont.Payload()[i] = byte(0x80 + i)
	}
	m.Append(&cont)
	m.Finish()

	require.Equal(t, uint8(0x02), m.Dest)
	require.Equal(t, uint8(0x01), m.Src)
	require.True(t, m.TagOwner)
	require.Equal(t, TypeControl, m.Type)
	require.Equal(t, 2*BTULen-1, m.Len)

	for i := 1; i < BTULen; i++ {
		require.Equal(t, byte(i), m.Payload[i-1])
	}
	for i := 0; i < BTULen; i++ {
		require.Equal(t, byte(0x80+i), m.Payload[BTULen-1+i])
	}
}

// TestMessageReassemblyMatchesExpectedPayloadStructurally reassembles a
// two-packet message and diffs the resulting Message's externally
// visible fields against a hand-built expectation with pretty.Compare,
// the way a mismatch in a wide byte payload is easier to spot as a
// structural diff than as a byte-by-byte require.Equal failure.
func TestMessageReassemblyMatchesExpectedPayloadStructurally(t *testing.T) {
	var m Message

	var som Packet
	som.SetHdrVersion(Version)
	som.SetDest(0x05)
	som.SetSrc(0x03)
	som.SetSOM(true)
	som.SetTag(2)
	som.SetTagOwner(true)
	som.Payload()[0] = TypeNCSI
	copy(som.Payload()[1:], []byte("hello, "))
	m.BeginSOM(&som, time.Now())

	var cont Packet
	cont.SetEOM(true)
	copy(cont.Payload(), []byte("mctp!"))
	m.Append(&cont)
	m.Finish()

	want := struct {
		Dest, Src uint8
		TagOwner  bool
		Tag       uint8
		Type      uint8
		Payload   string
	}{
		Dest: 0x05, Src: 0x03, TagOwner: true, Tag: 2, Type: TypeNCSI,
		Payload: "hello, mctp!",
	}
	got := struct {
		Dest, Src uint8
		TagOwner  bool
		Tag       uint8
		Type      uint8
		Payload   string
	}{
		Dest: m.Dest, Src: m.Src, TagOwner: m.TagOwner, Tag: m.Tag, Type: m.Type,
		Payload: string(m.Payload[:m.Len]),
	}

	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("reassembled message differs from expectation (-want +got):\n%s", diff)
	}
}

func TestMessageResetClearsRing(t *testing.T) {
	var m Message
	var p Packet
	p.SetSOM(true)
	m.BeginSOM(&p, time.Now())
	m.Append(&p)

	m.Reset()
	require.Equal(t, 0, m.Len)
	require.Equal(t, uint8(0), m.Dest)

	// a fresh BeginSOM after Reset must not see stale ring contents.
	var p2 Packet
	p2.SetSOM(true)
	p2.SetEOM(true)
	p2.Payload()[0] = TypeControl
	m.BeginSOM(&p2, time.Now())
	m.Finish()
	require.Equal(t, BTULen-1, m.Len)
}
