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

// mctp-client dials one MCTP transport endpoint and issues a single Set
// Endpoint ID request followed by a Get Endpoint ID request, printing
// the replies — a smoke-test counterpart to mctp-server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"

	"lab.nexedi.com/kirr/mctp/go/config"
	"lab.nexedi.com/kirr/mctp/go/transport"
	"lab.nexedi.com/kirr/mctp/go/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6236", "server address to dial")
	localEID := flag.Uint("local-eid", 0x01, "this endpoint's EID")
	assignEID := flag.Uint("assign-eid", 0x0a, "EID to assign the server via Set Endpoint ID")
	flag.Parse()

	if err := run(*addr, uint8(*localEID), uint8(*assignEID)); err != nil {
		fmt.Fprintln(os.Stderr, "mctp-client:", err)
		os.Exit(1)
	}
}

func run(addr string, localEID, assignEID uint8) error {
	netConn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "dial")
	}

	conn := transport.New(config.Default(), transport.ModeClient, "tcp", addr)
	conn.LocalEID = localEID
	conn.PeerEID = wire.EIDNull

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx, netConn) }()
	<-conn.Started()
	defer func() {
		conn.Stop()
		<-done
	}()

	// Set Endpoint ID: request bit | instance 0, cmd 0x01, op=set, eid.
	setReq := []byte{0x80, 0x01, 0x00, assignEID}
	a, err := conn.Submit(wire.TypeControl, setReq, transport.RetryDefault, 2*time.Second,
		nil, nil, nil, nil)
	if err != nil {
		return errors.Wrap(err, "submit set-endpoint-id")
	}
	if a == nil {
		return errors.New("set-endpoint-id: timed out")
	}
	fmt.Printf("set-endpoint-id reply: % x\n", a.Response.Payload[:a.Response.Len])
	conn.Release(a)

	// Get Endpoint ID: request bit | instance 0, cmd 0x02.
	getReq := []byte{0x80, 0x02}
	a, err = conn.Submit(wire.TypeControl, getReq, transport.RetryDefault, 2*time.Second,
		nil, nil, nil, nil)
	if err != nil {
		return errors.Wrap(err, "submit get-endpoint-id")
	}
	if a == nil {
		return errors.New("get-endpoint-id: timed out")
	}
	fmt.Printf("get-endpoint-id reply: % x\n", a.Response.Payload[:a.Response.Len])
	conn.Release(a)

	return nil
}
