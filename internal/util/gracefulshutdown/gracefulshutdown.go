/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gracefulshutdown turns SIGINT/SIGTERM into context cancellation so
// that an in-flight migration can be terminated and its resources released
// before the process exits.
package gracefulshutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ExitCodeForced is used when a second signal arrives during teardown.
const ExitCodeForced = 130

// GracefulShutdown holds the context cancelled by the first signal. A second
// signal exits immediately through exitFunc.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string

	once    sync.Once
	wg      *sync.WaitGroup
	signals chan os.Signal
	stop    chan struct{}

	// exitFunc allows injecting exit behavior for testing
	exitFunc func(int)
}

// New creates a GracefulShutdown listening for SIGINT and SIGTERM.
func New(name string) *GracefulShutdown {
	return NewWithExit(name, os.Exit)
}

// NewWithExit creates a GracefulShutdown with a custom exit function.
func NewWithExit(name string, exitFunc func(int)) *GracefulShutdown {
	ctx, cancel := context.WithCancel(context.Background())

	gs := &GracefulShutdown{
		ctx:      ctx,
		cancel:   cancel,
		name:     name,
		wg:       &sync.WaitGroup{},
		signals:  make(chan os.Signal, 2),
		stop:     make(chan struct{}),
		exitFunc: exitFunc,
	}

	signal.Notify(gs.signals, syscall.SIGTERM, os.Interrupt)
	go gs.watch()

	return gs
}

func (s *GracefulShutdown) watch() {
	select {
	case sig := <-s.signals:
		slog.Warn("⌛ interrupted, terminating migration and releasing resources", "name", s.name, "signal", sig.String())
		s.cancel()
	case <-s.stop:
		return
	}

	select {
	case sig := <-s.signals:
		slog.Error("second signal received, exiting without teardown", "name", s.name, "signal", sig.String())
		s.exitFunc(ExitCodeForced)
	case <-s.stop:
	}
}

// Notify delivers sig as if the process had received it.
func (s *GracefulShutdown) Notify(sig os.Signal) {
	s.signals <- sig
}

// Stop stops listening for signals and cancels the context.
func (s *GracefulShutdown) Stop() {
	s.once.Do(func() {
		signal.Stop(s.signals)
		close(s.stop)
		s.cancel()
	})
}

// Context returns the context cancelled by the first signal.
func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}

// WaitGroup tracks background goroutines, such as auxiliary servers, that
// must finish before the process exits.
func (s *GracefulShutdown) WaitGroup() *sync.WaitGroup {
	return s.wg
}
