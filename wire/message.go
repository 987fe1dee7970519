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
	"time"

	"github.com/someonegg/gocontainer/rbuf"
)

// Message type codes (MCMT_* in the original C header), DSP0236 / DSP0239.
const (
	TypeControl  uint8 = 0x00
	TypePLDM     uint8 = 0x01
	TypeNCSI     uint8 = 0x02
	TypeEthernet uint8 = 0x03
	TypeNVMeMI   uint8 = 0x04
	TypeSPDM     uint8 = 0x05
	TypeSecure   uint8 = 0x06
	TypeCXLFMAPI uint8 = 0x07
	TypeCXLCCI   uint8 = 0x08
	TypeCSE      uint8 = 0x70
	TypeVDMPCI   uint8 = 0x7e
	TypeVDMIANA  uint8 = 0x7f

	// NumTypes is the size of a type-indexed handler table (7-bit type
	// code, integrity-check bit masked off).
	NumTypes = 1 << 7
)

// Message is a reassembled (or about-to-be-fragmented) MCTP message: source
// and destination endpoints, the tag it was exchanged under, its 7-bit
// type, and up to MaxMessageLen bytes of payload.
//
// A Message's Payload array is fixed-size and reused from Pool — see
// transport.Pools — so that steady-state operation never allocates.
type Message struct {
	Dest, Src uint8
	TagOwner  bool
	Tag       uint8
	Type      uint8

	Created time.Time

	Payload [MaxMessageLen]byte
	Len     int

	// ring is reassembly scratch space: the packet reader writes each
	// packet's contribution here as it arrives and drains the whole
	// thing into Payload once EOM closes the message out. It plays the
	// same role NodeLink.rxbuf plays in neonet — a ring buffer carrying
	// bytes across reads — except it carries bytes across packets of
	// one message, not across reads of one packet.
	ring rbuf.RingBuf
}

// Reset clears a Message back to its zero value so a released Message
// never leaks a previous message's bytes into the next acquire.
func (m *Message) Reset() {
	m.Dest, m.Src = 0, 0
	m.TagOwner = false
	m.Tag = 0
	m.Type = 0
	m.Created = time.Time{}
	m.Payload = [MaxMessageLen]byte{}
	m.Len = 0
	m.ring = rbuf.RingBuf{}
}

// BeginSOM starts reassembly of a new message from its SOM packet: it
// records the header fields and seeds the ring with everything past the
// type byte.
func (m *Message) BeginSOM(p *Packet, arrival time.Time) {
	m.Dest = p.Dest()
	m.Src = p.Src()
	m.TagOwner = p.TagOwner()
	m.Tag = p.Tag()
	m.Created = arrival
	payload := p.Payload()
	m.Type = payload[0]
	m.ring = rbuf.RingBuf{}
	m.ring.Write(payload[1:])
}

// Append adds one continuation packet's full BTU payload to the in-flight
// reassembly.
func (m *Message) Append(p *Packet) {
	m.ring.Write(p.Payload())
}

// Finish drains the ring buffer into the fixed Payload array and records
// the final length, called once the EOM packet has been appended.
func (m *Message) Finish() {
	n := m.ring.Len()
	if n > len(m.Payload) {
		n = len(m.Payload)
	}
	got, _ := m.ring.Read(m.Payload[:n])
	m.Len = got
}

// PacketCount computes ⌈Len/BTULen⌉, the number of BTU-sized packets
// needed to fragment this message — DSP0236's framing rule applies
// uniformly across message types in this core; any message-type-specific
// exception (e.g. Control messages always fitting one packet) is a
// property of the payloads that collaborator produces, not of framing.
func (m *Message) PacketCount() int {
	if m.Len == 0 {
		return 0
	}
	n := m.Len / BTULen
	if m.Len%BTULen != 0 {
		n++
	}
	return n
}
