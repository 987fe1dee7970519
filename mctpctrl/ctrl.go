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

// Package mctpctrl implements the MCTP Control message type (DSP0236
// §8, message type 0x00): the Set/Get Endpoint ID command pair, plus
// the endpoint-local state (EID, bus-owner EID) those commands
// maintain. It is a collaborator registered against transport.Conn via
// SetHandler, not part of the core pipeline.
package mctpctrl

import (
	"lab.nexedi.com/kirr/mctp/go/transport"
	"lab.nexedi.com/kirr/mctp/go/wire"
)

// Control command IDs (MCCM_* in the original header).
const (
	CmdSetEndpointID        uint8 = 0x01
	CmdGetEndpointID        uint8 = 0x02
	CmdGetEndpointUUID      uint8 = 0x03
	CmdGetVersionSupport    uint8 = 0x04
	CmdGetMessageTypeSupport uint8 = 0x05
)

// Completion codes (MCCC_*).
const (
	Success             uint8 = 0x00
	Error               uint8 = 0x01
	ErrorInvalidData    uint8 = 0x02
	ErrorInvalidLength  uint8 = 0x03
	ErrorNotReady       uint8 = 0x04
	ErrorUnsupportedCmd uint8 = 0x05
)

// Set Endpoint ID operations (MCSE_*).
const (
	OpSet      uint8 = 0
	OpForce    uint8 = 1
	OpReset    uint8 = 2
	OpDiscover uint8 = 3
)

// Set Endpoint ID assignment outcomes.
const (
	AssignmentAccepted uint8 = 0
	AssignmentRejected uint8 = 1
)

// Endpoint ID types (MCIT_*) and endpoint types (MCEP_*) for Get
// Endpoint ID responses.
const (
	IDTypeDynamic uint8 = 0
	IDTypeStatic  uint8 = 1

	EndpointSimple uint8 = 0
	EndpointBridge uint8 = 1
)

// State is the Control collaborator's endpoint-local state: the EID
// this endpoint currently answers to, and the EID of the bus owner that
// last set it.
type State struct {
	EID         uint8
	BusOwnerEID uint8
}

// header is the 2-byte MCTP Control message header common to every
// Control command (request bit, datagram bit, instance ID, command
// code), DSP0236 Table 13.
type header struct {
	Req      bool
	Datagram bool
	Inst     uint8
	Cmd      uint8
}

func decodeHeader(b []byte) header {
	return header{
		Req:      b[0]&0x80 != 0,
		Datagram: b[0]&0x40 != 0,
		Inst:     b[0] & 0x1f,
		Cmd:      b[1],
	}
}

func (h header) encode(b []byte) {
	b[0] = h.Inst & 0x1f
	if h.Datagram {
		b[0] |= 0x40
	}
	if h.Req {
		b[0] |= 0x80
	}
	b[1] = h.Cmd
}

// Handler returns a transport.Handler dispatching Control requests to
// the Set/Get Endpoint ID implementations, closed over st. Register it
// with c.SetHandler(wire.TypeControl, mctpctrl.Handler(st)).
func Handler(st *State) transport.Handler {
	return func(c *transport.Conn, a *transport.Action) {
		req := a.Request
		if req.Len < 2 {
			c.Drop(a)
			return
		}
		hdr := decodeHeader(req.Payload[:2])

		switch hdr.Cmd {
		case CmdSetEndpointID:
			setEndpointID(c, a, st, hdr)
		case CmdGetEndpointID:
			getEndpointID(c, a, st, hdr)
		default:
			// unimplemented command: no response is built, same as the
			// reference implementation's no-op switch arms — the
			// requester's own retry/timeout governs the outcome.
			c.Drop(a)
		}
	}
}

// setEndpointID implements DSP0236 Table 14's Set Endpoint ID command:
// this endpoint accepts any dynamic EID assignment from its bus owner,
// and rejects Reset/Discover (it has no static-EID or discovery
// support) per the original C ctrl.c reference.
func setEndpointID(c *transport.Conn, a *transport.Action, st *State, hdr header) {
	req := a.Request
	if req.Len < 4 {
		c.Drop(a)
		return
	}
	op := req.Payload[2] & 0x03
	eid := req.Payload[3]

	resp := make([]byte, 6)
	hdr.Req = false
	hdr.encode(resp[:2])

	if op == OpReset || op == OpDiscover || eid == wire.EIDNull || eid == wire.EIDBroadcast {
		resp[2] = ErrorInvalidData
		resp[3] = AssignmentRejected << 0
		resp[4] = st.EID
		resp[5] = 0
		c.Reply(a, wire.TypeControl, resp)
		return
	}

	st.EID = eid
	st.BusOwnerEID = req.Src

	resp[2] = Success
	resp[3] = AssignmentAccepted
	resp[4] = st.EID
	resp[5] = 0 // pool_size
	c.Reply(a, wire.TypeControl, resp)
}

// getEndpointID implements DSP0236 Table 15's Get Endpoint ID command.
func getEndpointID(c *transport.Conn, a *transport.Action, st *State, hdr header) {
	resp := make([]byte, 4)
	hdr.Req = false
	hdr.encode(resp[:2])

	resp[2] = st.EID
	resp[3] = IDTypeDynamic | EndpointSimple<<4
	c.Reply(a, wire.TypeControl, resp)
}
