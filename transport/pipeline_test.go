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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lab.nexedi.com/kirr/mctp/go/config"
	"lab.nexedi.com/kirr/mctp/go/wire"
)

// pair wires two Conns over an in-memory net.Pipe and runs both
// supervisors in the background, returning a cleanup func that stops
// both and waits for Run to return.
func pair(t *testing.T) (client, server *Conn, stop func()) {
	t.Helper()

	clientNet, serverNet := net.Pipe()

	client = New(config.Default(), ModeClient, "", "")
	client.LocalEID = 0x01
	client.PeerEID = 0x02

	server = New(config.Default(), ModeClient, "", "") // driven directly, no Listen
	server.LocalEID = 0x02
	server.PeerEID = 0x01

	clientStarted := client.Started()
	serverStarted := server.Started()

	done := make(chan struct{}, 2)
	go func() { _ = client.Run(context.Background(), clientNet); done <- struct{}{} }()
	go func() { _ = server.Run(context.Background(), serverNet); done <- struct{}{} }()

	<-clientStarted
	<-serverStarted

	return client, server, func() {
		client.Stop()
		server.Stop()
		<-done
		<-done
	}
}

func TestPipelineRequestReplyRoundTrip(t *testing.T) {
	client, server, stop := pair(t)
	defer stop()

	server.SetHandler(wire.TypeControl, func(c *Conn, a *Action) {
		c.Reply(a, wire.TypeControl, []byte("pong"))
	})

	a, err := client.Submit(wire.TypeControl, []byte("ping"), RetryDefault, time.Second,
		nil, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, a.Response)
	require.Equal(t, "pong", string(a.Response.Payload[:a.Response.Len]))
	client.Release(a)
}

func TestPipelineUnhandledRequestLeavesSubmitterToTimeOut(t *testing.T) {
	client, _, stop := pair(t)
	defer stop()

	start := time.Now()
	a, err := client.Submit(wire.TypeNCSI, []byte("?"), RetryDefault, 30*time.Millisecond,
		nil, nil, nil, nil)
	require.NoError(t, err)
	require.Nil(t, a) // no handler on the other side: times out
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPipelineFireAndForgetReturnsImmediately(t *testing.T) {
	client, server, stop := pair(t)
	defer stop()

	received := make(chan struct{}, 1)
	server.SetHandler(wire.TypeControl, func(c *Conn, a *Action) {
		received <- struct{}{}
		c.Drop(a)
	})

	a, err := client.Submit(wire.TypeControl, []byte("fire"), RetryDefault, 0,
		nil, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, a)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("server handler never ran")
	}
}

// TestPipelineRetryExhaustionInvokesFnFailed drives a request against a
// peer that never answers it, with a short action_delta so the
// scheduler's sweep resubmits it a handful of times before giving up.
// It asserts both the retransmit count (a.Num reaching the configured
// max) and that fn_failed fires — and, since a resubmission rebuilds
// the fragmenter's packet chain from scratch (see fragmenter.step),
// that the chain handed to fn_failed holds exactly one attempt's
// packets rather than every prior attempt's accumulated alongside it.
func TestPipelineRetryExhaustionInvokesFnFailed(t *testing.T) {
	cfg := config.Default()
	cfg.SetActionDelta(10 * time.Millisecond)
	cfg.SetSchedulerTick(time.Millisecond)

	clientNet, serverNet := net.Pipe()

	client := New(cfg, ModeClient, "", "")
	client.LocalEID = 0x01
	client.PeerEID = 0x02

	server := New(cfg, ModeClient, "", "")
	server.LocalEID = 0x02
	server.PeerEID = 0x01

	clientStarted := client.Started()
	serverStarted := server.Started()

	done := make(chan struct{}, 2)
	go func() { _ = client.Run(context.Background(), clientNet); done <- struct{}{} }()
	go func() { _ = server.Run(context.Background(), serverNet); done <- struct{}{} }()
	<-clientStarted
	<-serverStarted
	defer func() {
		client.Stop()
		server.Stop()
		<-done
		<-done
	}()

	const maxRetry = 3

	type result struct {
		num     int
		packets int
	}
	failed := make(chan result, 1)

	// timeout == 0: fire-and-forget. Ownership of a passes to FnFailed,
	// the same contract as a Done-delivered Action, so the callback
	// captures what it needs and releases it.
	a, err := client.Submit(wire.TypeNCSI, []byte("?"), maxRetry, 0,
		nil, nil, nil, func(a *Action) {
			failed <- result{num: a.Num, packets: len(a.Packets)}
			client.Release(a)
		})
	require.NoError(t, err)
	require.NotNil(t, a)

	select {
	case r := <-failed:
		require.Equal(t, maxRetry, r.num)
		require.Equal(t, 1, r.packets) // one attempt's chain, not every retry's accumulated
	case <-time.After(2 * time.Second):
		t.Fatal("fn_failed never fired")
	}
}

func TestPipelineStopUnblocksRun(t *testing.T) {
	client, server, stop := pair(t)
	// stop() itself blocks on both Run goroutines returning; a hang here
	// (e.g. the scheduler never observing shutdown) fails the test via
	// the suite's own timeout.
	stop()
	_ = client
	_ = server
}
