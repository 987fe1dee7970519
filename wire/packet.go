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

// Package wire defines the on-the-wire MCTP packet and in-memory message
// types, per DSP0236 (MCTP base) §8.
//
// It plays the role go/neo/proto plays for NEO: proto there defines the NEO
// packet header and message registry; wire here defines the MCTP packet
// header and the reassembled-message shape. Unlike proto's PktHeader (whose
// fields are all byte-or-wider and so can be overlaid with unsafe.Pointer),
// MCTP packs SOM/EOM/tag/tag-owner/seq into sub-byte fields of a single
// byte, which Go cannot express as a struct overlay — so Packet exposes
// them as accessor methods over a plain byte array instead.
package wire

import "fmt"

const (
	// HeaderLen is the size in bytes of the MCTP transport header.
	HeaderLen = 4
	// BTULen is the size in bytes of the MCTP baseline transmission unit.
	BTULen = 64
	// PacketLen is the size in bytes of one whole MCTP packet on the wire.
	PacketLen = HeaderLen + BTULen

	// Version is the only MCTP header version this library speaks.
	Version = 1

	// MaxMessageLen is the largest payload a reassembled Message can carry.
	MaxMessageLen = 8192

	// Reserved endpoint IDs (DSP0236 Table 2).
	EIDNull      = 0x00
	EIDBroadcast = 0xff
)

// Packet is one 68-byte MCTP packet: a 4-byte header followed by a 64-byte
// BTU payload. The zero Packet is a valid (if meaningless) packet.
type Packet [PacketLen]byte

// HdrVersion returns the 4-bit header version field.
func (p *Packet) HdrVersion() uint8 { return p[0] & 0x0f }

// SetHdrVersion sets the 4-bit header version field.
func (p *Packet) SetHdrVersion(v uint8) { p[0] = p[0]&0xf0 | v&0x0f }

// Dest returns the destination endpoint ID.
func (p *Packet) Dest() uint8 { return p[1] }

// SetDest sets the destination endpoint ID.
func (p *Packet) SetDest(eid uint8) { p[1] = eid }

// Src returns the source endpoint ID.
func (p *Packet) Src() uint8 { return p[2] }

// SetSrc sets the source endpoint ID.
func (p *Packet) SetSrc(eid uint8) { p[2] = eid }

// SOM reports whether this is the first packet of a message.
func (p *Packet) SOM() bool { return p[3]&0x80 != 0 }

// SetSOM sets the start-of-message flag.
func (p *Packet) SetSOM(v bool) { setbit(&p[3], 7, v) }

// EOM reports whether this is the last packet of a message.
func (p *Packet) EOM() bool { return p[3]&0x40 != 0 }

// SetEOM sets the end-of-message flag.
func (p *Packet) SetEOM(v bool) { setbit(&p[3], 6, v) }

// Tag returns the 3-bit request/response tag.
func (p *Packet) Tag() uint8 { return (p[3] >> 3) & 0x07 }

// SetTag sets the 3-bit tag.
func (p *Packet) SetTag(tag uint8) { p[3] = p[3]&^(0x07<<3) | (tag&0x07)<<3 }

// TagOwner reports whether the sender of this packet originated the tag.
func (p *Packet) TagOwner() bool { return p[3]&0x04 != 0 }

// SetTagOwner sets the tag-owner flag.
func (p *Packet) SetTagOwner(v bool) { setbit(&p[3], 2, v) }

// Seq returns the 2-bit packet sequence number, modulo 4.
func (p *Packet) Seq() uint8 { return p[3] & 0x03 }

// SetSeq sets the 2-bit packet sequence number.
func (p *Packet) SetSeq(seq uint8) { p[3] = p[3]&^0x03 | seq&0x03 }

// Payload returns the 64-byte BTU payload.
func (p *Packet) Payload() []byte { return p[HeaderLen:] }

func setbit(b *byte, pos uint, v bool) {
	if v {
		*b |= 1 << pos
	} else {
		*b &^= 1 << pos
	}
}

// String dumps a packet header in human-readable form, the Go-idiomatic
// analogue of the original C library's mctp_prnt_hdr.
func (p *Packet) String() string {
	return fmt.Sprintf("mctp.Packet{dst:%#02x src:%#02x tag:%d to:%v seq:%d som:%v eom:%v}",
		p.Dest(), p.Src(), p.Tag(), p.TagOwner(), p.Seq(), p.SOM(), p.EOM())
}
