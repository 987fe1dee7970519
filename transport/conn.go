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
	"sync"
	"time"

	"github.com/pkg/errors"

	"lab.nexedi.com/kirr/mctp/go/config"
	"lab.nexedi.com/kirr/mctp/go/internal/log"
	"lab.nexedi.com/kirr/mctp/go/internal/task"
	"lab.nexedi.com/kirr/mctp/go/pool"
	"lab.nexedi.com/kirr/mctp/go/wire"
	"lab.nexedi.com/kirr/mctp/go/xcommon/xsync"
)

// Mode selects whether a Conn accepts inbound connections (and re-accepts
// on disconnect) or dials out once.
type Mode int

const (
	ModeServer Mode = iota
	ModeClient
)

type stopReason int

const (
	stopNone stopReason = iota
	stopExternal          // caller-requested orderly stop; exit the accept loop
	stopAbnormal          // a stage reported abnormal exit; recycle in server mode
)

// Pools bundles the three object pools shared by every stage of one
// connection.
type Pools struct {
	Packets  *pool.Pool[wire.Packet]
	Messages *pool.Pool[wire.Message]
	Actions  *pool.Pool[Action]
}

// Queues bundles the six bounded FIFOs connecting the seven stages.
type Queues struct {
	RPQ *pool.Queue[*wire.Packet]
	TPQ *pool.Queue[*Action]
	RMQ *pool.Queue[*wire.Message]
	TMQ *pool.Queue[*Action]
	TAQ *pool.Queue[*Action]
	ACQ *pool.Queue[*Action]
}

// Conn is the connection supervisor: one per accepted/dialed socket. It
// owns the pools, queues, tag table and handler table, and runs the
// seven stages as goroutines under an xsync.WorkGroup, restarting them
// (server mode) whenever the underlying socket is lost.
type Conn struct {
	Config *config.Config
	Stats  *Stats

	Pools  *Pools
	Queues *Queues

	LocalEID uint8
	PeerEID  uint8

	mode     Mode
	network  string
	address  string
	listener net.Listener
	netConn  net.Conn

	tags tagTable

	handlersMu sync.RWMutex
	handlers   [wire.NumTypes]Handler

	sched *scheduler

	stopMu    sync.Mutex
	stopCh    chan struct{}
	reason    stopReason
	startedCh chan struct{} // closed once the socket is ready, just before the seven stages start
}

// New allocates a Conn for the given mode/address, with fresh pools and
// queues sized from cfg. It does not yet touch the network — call Run.
func New(cfg *config.Config, mode Mode, network, address string) *Conn {
	if cfg == nil {
		cfg = config.Default()
	}
	c := &Conn{
		Config:  cfg,
		Stats:   &Stats{},
		mode:    mode,
		network: network,
		address: address,
	}
	c.reset(cfg)
	return c
}

// SetListener supplies a pre-built net.Listener for server mode instead
// of letting Run() call net.Listen(network, address) itself — for a
// caller that needs to multiplex the MCTP stream off a shared port (see
// cmd/mctp-server, which demuxes one cmux.Listener between this and an
// HTTP debug mux). Must be called before Run; has no effect in client
// mode.
func (c *Conn) SetListener(l net.Listener) {
	c.listener = l
}

// reset (re)builds pools and queues; called at construction and again
// at the top of every server-mode accept cycle, per the design's step
// (1) "reset state and construct queues and pools".
func (c *Conn) reset(cfg *config.Config) {
	c.Pools = &Pools{
		Packets:  pool.New[wire.Packet](cfg.PacketPoolSize, func(p *wire.Packet) { *p = wire.Packet{} }),
		Messages: pool.New[wire.Message](cfg.MessagePoolSize, func(m *wire.Message) { m.Reset() }),
		Actions:  pool.New[Action](cfg.ActionPoolSize, func(a *Action) { a.Reset() }),
	}
	c.Queues = &Queues{
		RPQ: pool.NewQueue[*wire.Packet](cfg.RPQDepth),
		TPQ: pool.NewQueue[*Action](cfg.TPQDepth),
		RMQ: pool.NewQueue[*wire.Message](cfg.RMQDepth),
		TMQ: pool.NewQueue[*Action](cfg.TMQDepth),
		TAQ: pool.NewQueue[*Action](cfg.TAQDepth),
		ACQ: pool.NewQueue[*Action](cfg.ACQDepth),
	}
	c.tags = tagTable{}
	c.sched = newScheduler(c)
	c.stopCh = make(chan struct{})
	c.reason = stopNone
}

// SetHandler installs fn as the handler for inbound messages of the
// given type, replacing any previous handler.
func (c *Conn) SetHandler(typ uint8, fn Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[typ&0x7f] = fn
}

func (c *Conn) handler(typ uint8) Handler {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.handlers[typ&0x7f]
}

// requestStop records why the pipeline is stopping and wakes the
// supervisor loop. Only the first call sets reason; later calls (e.g.
// two stages both seeing transport failure) are no-ops.
func (c *Conn) requestStop(reason stopReason) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.reason != stopNone {
		return
	}
	c.reason = reason
	close(c.stopCh)
}

// abnormal is a convenience alias used by the stages.
const abnormal = stopAbnormal

// Started returns a channel that is closed once the pipeline has
// accepted/connected its socket and is about to start its seven stages
// — the Go analogue of the original library's non-blocking-startup
// semaphore. Call it before Run; a Run whose caller never asked for
// this never allocates the channel.
func (c *Conn) Started() <-chan struct{} {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.startedCh == nil {
		c.startedCh = make(chan struct{})
	}
	return c.startedCh
}

// Stop requests an orderly shutdown and returns at once; it does not
// wait for Run to return.
func (c *Conn) Stop() {
	c.requestStop(stopExternal)
}

// retire returns an action's request/response messages, packet chain
// and the action itself to their pools, per §4.8's "Retire". It must
// never be called on an action a blocked Submit caller still owns
// (a.Done != nil and not yet closed) — releasing the pools zeroes
// a.Response/a.CompletionCode out from under the reader. Use finish for
// any completion path that may race a waiting caller.
func (c *Conn) retire(a *Action) {
	if a.Request != nil {
		c.Pools.Messages.Release(a.Request)
	}
	if a.Response != nil {
		c.Pools.Messages.Release(a.Response)
	}
	for _, p := range a.Packets {
		c.Pools.Packets.Release(p)
	}
	a.Packets = nil
	c.Pools.Actions.Release(a)
}

// finish is the Done-aware tail end of a completion path. If no Submit
// call is waiting (a.Done == nil, the fire-and-forget case) a is
// retired immediately. Otherwise it races the claim against a Submit
// call that may be giving up on timeout at this same instant: whichever
// side wins a.claimed delivers the result (closes Done, handing
// ownership to the caller, who must call Release once done reading
// it); the loser means Submit already gave up, so this path retires on
// its behalf.
func (c *Conn) finish(a *Action) {
	if a.Done == nil {
		c.retire(a)
		return
	}
	if a.claimed.CompareAndSwap(false, true) {
		close(a.Done)
		return
	}
	c.retire(a)
}

// Release returns a completed action (and its messages/packet chain)
// to their pools. Callers that received an Action back from a
// synchronous Submit call must call Release on it once they are done
// reading Response/CompletionCode.
func (c *Conn) Release(a *Action) {
	c.retire(a)
}

// Submit enqueues an outbound action of the given message type, per
// §6's submit interface. retry accepts RetryForever/RetryDefault or a
// non-negative attempt count. If timeout is zero the call returns
// immediately with the Action (fire-and-forget; it is retired
// automatically once it completes); otherwise it blocks on the
// action's completion (or the timeout, whichever comes first) and
// returns the Action with Response/CompletionCode set, or nil on
// expiry. A non-nil Action returned from a non-zero-timeout call must
// be passed to Release once the caller is done reading it.
func (c *Conn) Submit(
	typ uint8, payload []byte, retry int, timeout time.Duration,
	userData interface{},
	fnSubmitted, fnCompleted, fnFailed func(*Action),
) (*Action, error) {
	if len(payload) > wire.MaxMessageLen {
		return nil, errors.New("transport: submit: payload too large")
	}

	msg := c.Pools.Messages.Acquire()
	if msg == nil {
		return nil, errors.New("transport: submit: message pool shut down")
	}
	msg.Dest = c.PeerEID
	msg.Src = c.LocalEID
	msg.TagOwner = true
	msg.Type = typ
	msg.Created = time.Now()
	msg.Len = copy(msg.Payload[:], payload)

	a := c.Pools.Actions.Acquire()
	if a == nil {
		c.Pools.Messages.Release(msg)
		return nil, errors.New("transport: submit: action pool shut down")
	}
	a.Request = msg
	a.Created = time.Now()
	a.Max = normalizeRetry(retry)
	a.UserData = userData
	a.FnSubmitted = fnSubmitted
	a.FnCompleted = fnCompleted
	a.FnFailed = fnFailed

	if timeout != 0 {
		a.Done = make(chan struct{})
	}

	if !c.Queues.TAQ.Push(a) {
		c.retire(a)
		return nil, errors.New("transport: submit: TAQ full")
	}
	c.sched.nudge()

	if timeout == 0 {
		return a, nil
	}

	select {
	case <-a.Done:
		return a, nil
	case <-time.After(timeout):
		if a.claimed.CompareAndSwap(false, true) {
			// won the race: no completion path has touched a yet, and
			// none will retire it until it loses its own claim attempt
			// in finish, so it is safe to just walk away.
			return nil, nil
		}
		// lost the race: a completion path claimed a and closed Done
		// concurrently with this timeout firing; the result is ready.
		<-a.Done
		return a, nil
	}
}

// Run starts the connection supervisor: it accepts (server mode) or
// uses the already-dialed socket (client mode), starts the seven
// stages, and blocks until Stop is called or a stage reports an
// abnormal exit it cannot recover from (client mode, or server mode
// with no further accepts wanted).
func (c *Conn) Run(ctx context.Context, netConn net.Conn) (err error) {
	ctx = task.Running(ctx, "conn")
	defer task.ErrContext(&err, ctx)

	if c.mode == ModeServer && c.listener == nil {
		l, err := net.Listen(c.network, c.address)
		if err != nil {
			return errors.Wrap(err, "transport: listen")
		}
		c.listener = l
	}

	for {
		if netConn == nil {
			netConn, err = c.accept(ctx)
			if err != nil {
				return err
			}
		}
		c.netConn = netConn

		c.stopMu.Lock()
		if c.startedCh != nil {
			close(c.startedCh)
			c.startedCh = nil
		}
		c.stopMu.Unlock()

		c.runStages(ctx)
		netConn.Close()

		if c.reason == stopExternal || c.mode == ModeClient {
			return nil
		}

		// server mode, abnormal exit: recycle.
		log.Infof(ctx, "conn: recycling after abnormal stage exit")
		c.reset(c.Config)
		netConn = nil
	}
}

func (c *Conn) accept(ctx context.Context) (net.Conn, error) {
	conn, err := c.listener.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "transport: accept")
	}
	return conn, nil
}

// runStages starts all seven stages under one WorkGroup and waits for
// either Stop()/requestStop() or the group's context to be canceled by
// a stage's own error return, then tears everything down in the order
// the design mandates: socket-reader, packet-reader, dispatcher,
// packet-writer, socket-writer, scheduler, completion. Since every
// stage here exits cleanly on queue shutdown (no panics/exceptions
// escape), the ordering is enforced by shutting down queues in that
// same sequence rather than by cancellation order.
func (c *Conn) runStages(ctx context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg xsync.WorkGroup

	wg.Gox(func() { _ = (&socketReader{conn: c}).run(sctx) })
	wg.Gox(func() { _ = (&reassembler{conn: c}).run(sctx) })
	wg.Gox(func() { _ = (&dispatcher{conn: c}).run(sctx) })
	wg.Gox(func() { _ = (&fragmenter{conn: c}).run(sctx) })
	wg.Gox(func() { _ = (&socketWriter{conn: c}).run(sctx) })
	wg.Gox(func() { _ = c.sched.run(sctx) })
	wg.Gox(func() { _ = (&completion{conn: c}).run(sctx) })

	<-c.stopCh

	// wakes the scheduler's ctx.Done() select immediately instead of
	// waiting out the next tick.
	cancel()

	c.netConn.Close()

	c.Queues.RPQ.Shutdown()
	c.Pools.Packets.Shutdown()
	// reassembler exits once RPQ is drained and shut down.

	c.Queues.RMQ.Shutdown()
	// dispatcher exits once RMQ is drained and shut down.

	c.Queues.TMQ.Shutdown()
	// fragmenter exits once TMQ is drained and shut down.

	c.Queues.TPQ.Shutdown()
	// socket-writer exits once TPQ is drained and shut down.

	c.Queues.TAQ.Shutdown()
	c.Pools.Messages.Shutdown()
	c.Pools.Actions.Shutdown()
	// scheduler's sweep/promote both tolerate shut-down queues/pools.

	c.Queues.ACQ.Shutdown()
	// completion exits once ACQ is drained and shut down.

	wg.Wait()

	// any action still in the tag table at shutdown is finished; its
	// caller (if waiting on Done) unblocks via the closed channel,
	// otherwise it is retired directly.
	c.tags.mu.Lock()
	for tag, a := range c.tags.slot {
		if a != nil {
			c.tags.slot[tag] = nil
			c.finish(a)
		}
	}
	c.tags.mu.Unlock()
}
