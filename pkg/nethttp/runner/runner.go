// Package runner serves an HTTP server until its context ends and then shuts
// it down gracefully.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

type Server interface {
	Serve(listener net.Listener) error
	Shutdown(ctx context.Context) error
}

// RunServer listens on addr (host:port or :port) and returns once the
// listener is open. Serve and shutdown errors are reported on errChan.
func RunServer(
	ctx context.Context,
	server Server,
	addr string,
	errChan chan<- error,
	wgr *sync.WaitGroup,
	shutdownTimeout time.Duration,
) (net.Addr, error) {
	return runServer(ctx, server, addr, errChan, wgr, net.Listen, shutdownTimeout)
}

func runServer(
	ctx context.Context,
	server Server,
	addr string,
	errChan chan<- error,
	wgr *sync.WaitGroup,
	listen func(string, string) (net.Listener, error),
	shutdownTimeout time.Duration,
) (net.Addr, error) {
	listener, err := listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("can't listen on %s: %w", addr, err)
	}

	wgr.Add(1)

	go func() {
		defer wgr.Done()

		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("can't start http server: %w", err)
		}
	}()

	wgr.Add(1)

	go func() {
		defer wgr.Done()

		<-ctx.Done()

		sdCtx := context.Background()
		if shutdownTimeout > 0 {
			var cancel context.CancelFunc
			sdCtx, cancel = context.WithTimeout(sdCtx, shutdownTimeout)
			defer cancel()
		}
		if err := server.Shutdown(sdCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("can't shutdown http server: %w", err)
		}
	}()

	return listener.Addr(), nil
}
