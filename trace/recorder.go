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

// Package trace records packets and messages flowing through a
// transport.Conn to a file, for offline conformance analysis of a run.
// It is the structured, replayable analogue of the original C library's
// mctp_prnt_pkt/mctp_prnt_msg debug dumps: instead of formatting to a
// log line, each captured record is msgpack-encoded and appended to a
// file a later tool can decode and diff against an expected trace.
package trace

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shamaton/msgpack"

	"lab.nexedi.com/kirr/mctp/go/wire"
)

// Direction distinguishes packets/messages flowing off the wire from
// ones about to go onto it.
type Direction uint8

const (
	DirectionRX Direction = iota
	DirectionTX
)

// CapturedPacket is one RPQ/TPQ-stage packet, captured verbatim.
type CapturedPacket struct {
	Direction Direction
	Time      time.Time
	Raw       []byte // wire.PacketLen bytes
}

// CapturedMessage is one RMQ/TMQ-stage reassembled or about-to-fragment
// message.
type CapturedMessage struct {
	Direction Direction
	Time      time.Time
	Dest, Src uint8
	TagOwner  bool
	Tag       uint8
	Type      uint8
	Payload   []byte
}

// Recorder appends msgpack-encoded, length-prefixed CapturedPacket and
// CapturedMessage records to an underlying io.Writer. It is safe for
// concurrent use by multiple pipeline stages, each guarded by its own
// call to RecordPacket/RecordMessage.
type Recorder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewRecorder wraps w; typically an *os.File opened for the lifetime of
// one connection's run.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// kind tags each record so a reader can tell packets and messages apart
// in one shared stream without peeking at the msgpack payload shape.
type kind uint8

const (
	kindPacket kind = iota
	kindMessage
)

func (r *Recorder) write(k kind, v interface{}) error {
	body, err := msgpack.Encode(v)
	if err != nil {
		return errors.Wrap(err, "trace: encode")
	}

	var hdr [5]byte
	hdr[0] = uint8(k)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(body)))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "trace: write header")
	}
	if _, err := r.w.Write(body); err != nil {
		return errors.Wrap(err, "trace: write body")
	}
	return nil
}

// RecordPacket captures p, copying its bytes so later mutation of p by
// the pool doesn't corrupt the trace.
func (r *Recorder) RecordPacket(dir Direction, p *wire.Packet) error {
	raw := make([]byte, wire.PacketLen)
	copy(raw, p[:])
	return r.write(kindPacket, CapturedPacket{
		Direction: dir,
		Time:      time.Now(),
		Raw:       raw,
	})
}

// RecordMessage captures msg's header fields and payload.
func (r *Recorder) RecordMessage(dir Direction, msg *wire.Message) error {
	payload := make([]byte, msg.Len)
	copy(payload, msg.Payload[:msg.Len])
	return r.write(kindMessage, CapturedMessage{
		Direction: dir,
		Time:      time.Now(),
		Dest:      msg.Dest,
		Src:       msg.Src,
		TagOwner:  msg.TagOwner,
		Tag:       msg.Tag,
		Type:      msg.Type,
		Payload:   payload,
	})
}

// Reader decodes a stream previously written by Recorder.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for sequential Next calls.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next decodes the next record, returning exactly one of *CapturedPacket
// or *CapturedMessage non-nil, or io.EOF once the stream is exhausted.
func (rd *Reader) Next() (pkt *CapturedPacket, msg *CapturedMessage, err error) {
	var hdr [5]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		return nil, nil, err // includes io.EOF on a clean stream end
	}
	k := kind(hdr[0])
	n := binary.BigEndian.Uint32(hdr[1:])

	body := make([]byte, n)
	if _, err := io.ReadFull(rd.r, body); err != nil {
		return nil, nil, errors.Wrap(err, "trace: read body")
	}

	switch k {
	case kindPacket:
		var p CapturedPacket
		if err := msgpack.Decode(body, &p); err != nil {
			return nil, nil, errors.Wrap(err, "trace: decode packet")
		}
		return &p, nil, nil
	case kindMessage:
		var m CapturedMessage
		if err := msgpack.Decode(body, &m); err != nil {
			return nil, nil, errors.Wrap(err, "trace: decode message")
		}
		return nil, &m, nil
	default:
		return nil, nil, errors.Errorf("trace: unknown record kind %d", k)
	}
}
