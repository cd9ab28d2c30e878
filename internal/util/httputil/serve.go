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

// Package httputil runs the auxiliary HTTP servers of virtmig.
package httputil

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Serve starts every server in the background, tracked by wg, and returns a
// function that shuts them down and waits for wg. A server that fails to
// listen is logged and does not affect the others.
func Serve(ctx context.Context, servers map[string]*http.Server, wg *sync.WaitGroup) (stop func()) {
	for name, server := range servers {
		// request contexts are cancelled with ctx.
		server.BaseContext = func(_ net.Listener) context.Context {
			return ctx
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			slog.InfoContext(ctx, "starting server", "server", name, "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "❌ server stopped", "server", name, "error", err.Error())
			}
		}()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for name, server := range servers {
				sdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				if err := server.Shutdown(sdCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.ErrorContext(sdCtx, "❌ received error while shutting down server", "server", name, "error", err.Error())
				}
				cancel()
			}
			wg.Wait()
		})
	}
}
