// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// configWatcher reloads the daemon each time its configuration file was written.
type configWatcher struct {
	filename string
	daemon   *daemon
	watcher  *fsnotify.Watcher

	stopSyn chan struct{}
	stopAck chan struct{}
}

// watchConfig starts a configWatcher. The file's directory is watched, as editors often replace files instead of
// writing them.
func watchConfig(filename string, d *daemon) (cw *configWatcher, err error) {
	cw = &configWatcher{
		filename: filepath.Clean(filename),
		daemon:   d,
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}

	if cw.watcher, err = fsnotify.NewWatcher(); err != nil {
		return nil, err
	}
	if err = cw.watcher.Add(filepath.Dir(cw.filename)); err != nil {
		_ = cw.watcher.Close()
		return nil, err
	}

	go cw.handler()
	return
}

func (cw *configWatcher) handler() {
	defer close(cw.stopAck)

	for {
		select {
		case <-cw.stopSyn:
			return

		case e, ok := <-cw.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if filepath.Clean(e.Name) != cw.filename || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			cw.reload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Warn("fsnotify errored")
		}
	}
}

func (cw *configWatcher) reload() {
	conf, err := parseConfig(cw.filename)
	if err != nil {
		log.WithError(err).WithField("file", cw.filename).Warn("Ignoring invalid configuration change")
		return
	}

	if err := cw.daemon.reload(conf); err != nil {
		log.WithError(err).Warn("Reloading configuration errored")
		return
	}

	log.WithField("file", cw.filename).Info("Reloaded configuration")
}

// Close stops watching.
func (cw *configWatcher) Close() error {
	close(cw.stopSyn)
	err := cw.watcher.Close()
	<-cw.stopAck
	return err
}
