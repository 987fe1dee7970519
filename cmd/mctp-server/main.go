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

// mctp-server runs one MCTP transport endpoint in server mode, with the
// Control collaborator (Set/Get Endpoint ID) registered, and a debug
// HTTP endpoint exposing pipeline counters — sharing one listening port
// via cmux the way go/neo/cmd/neo's listenAndServe shares one port
// between the NEO wire protocol and /debug/pprof.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"

	"lab.nexedi.com/kirr/mctp/go/config"
	"lab.nexedi.com/kirr/mctp/go/internal/log"
	"lab.nexedi.com/kirr/mctp/go/mctpctrl"
	"lab.nexedi.com/kirr/mctp/go/transport"
	"lab.nexedi.com/kirr/mctp/go/wire"

	_ "net/http/pprof"
)

func main() {
	addr := flag.String("addr", ":6236", "address to listen on")
	eid := flag.Uint("eid", 0x08, "initial local endpoint ID")
	confPath := flag.String("config", "", "path to a live-reloadable JSON config file (optional)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	if err := run(ctx, *addr, uint8(*eid), *confPath); err != nil {
		fmt.Fprintln(os.Stderr, "mctp-server:", err)
		os.Exit(1)
	}
}

// mctpMatch recognizes the start of an MCTP packet stream by its fixed
// header version nibble, the way go/neo/cmd/neo's neoMatch recognizes a
// NEO handshake.
func mctpMatch(r io.Reader) bool {
	var b [1]byte
	n, _ := io.ReadFull(r, b[:])
	if n < 1 {
		return false
	}
	return b[0]&0x0f == wire.Version
}

func run(ctx context.Context, addr string, eid uint8, confPath string) error {
	cfg := config.Default()
	if confPath != "" {
		wg, wctx := errgroup.WithContext(ctx)
		wg.Go(func() error { return config.Watch(wctx, cfg, confPath) })
		defer wg.Wait()
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Infof(ctx, "mctp-server: listening at %s", l.Addr())

	mux := cmux.New(l)
	mctpL := mux.Match(mctpMatch)
	httpL := mux.Match(cmux.HTTP1(), cmux.HTTP2())

	conn := transport.New(cfg, transport.ModeServer, "tcp", addr)
	conn.LocalEID = eid
	conn.SetListener(mctpL)

	st := &mctpctrl.State{EID: eid}
	conn.SetHandler(wire.TypeControl, mctpctrl.Handler(st))

	mine := http.NewServeMux()
	mine.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conn.Stats.Snapshot())
	})

	wg, wctx := errgroup.WithContext(ctx)

	wg.Go(func() error { return mux.Serve() })
	wg.Go(func() error { return conn.Run(wctx, nil) })
	wg.Go(func() error { return http.Serve(httpL, mine) })
	wg.Go(func() error {
		<-wctx.Done()
		conn.Stop()
		l.Close()
		return nil
	})

	return wg.Wait()
}
