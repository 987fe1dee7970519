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

package config

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"lab.nexedi.com/kirr/mctp/go/internal/log"
)

func msToDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// live is the subset of Config a reload is allowed to touch: sizes that
// feed pre-allocated pools and queues are frozen for the life of a Conn.
type live struct {
	Retry           int    `json:"retry"`
	ActionDeltaMS   int64  `json:"action_delta_ms"`
	SchedulerTickMS int64  `json:"scheduler_tick_ms"`
	Verbose         uint32 `json:"verbose"`
}

// Watch watches path for writes and applies its live-reloadable fields to
// c on every change, the way go/zodb/storage/fs1.FileStorage.watcher
// watches its data file for external append/truncate — except here the
// file drives configuration, not data.
//
// Watch blocks until ctx is canceled or the watcher fails irrecoverably;
// run it in its own goroutine.
func Watch(ctx context.Context, c *Config, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: watch")
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return errors.Wrapf(err, "config: watch %s", path)
	}

	if err := reload(c, path); err != nil {
		log.Warningf(ctx, "config: initial load of %s: %s", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := reload(c, path); err != nil {
				log.Warningf(ctx, "config: reload %s: %s", path, err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				log.Warningf(ctx, "config: watcher: %s", err)
			}
		}
	}
}

func reload(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var l live
	if err := json.Unmarshal(data, &l); err != nil {
		return errors.Wrap(err, "config: decode")
	}

	if l.Retry != 0 {
		c.SetRetry(l.Retry)
	}
	if l.ActionDeltaMS != 0 {
		c.SetActionDelta(msToDuration(l.ActionDeltaMS))
	}
	if l.SchedulerTickMS != 0 {
		c.SetSchedulerTick(msToDuration(l.SchedulerTickMS))
	}
	c.SetVerbose(l.Verbose)

	return nil
}
