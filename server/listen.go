package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
)

type options struct {
	shutdownTimeout   time.Duration
	readHeaderTimeout time.Duration
}

// Option tunes the HTTP server.
type Option func(*options)

// WithShutdownTimeout bounds how long in-flight requests may run after a
// shutdown signal. Non-positive values keep the default.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send request
// headers. Non-positive values keep the default.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readHeaderTimeout = d
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		shutdownTimeout:   DefaultShutdownTimeout,
		readHeaderTimeout: DefaultReadHeaderTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Run serves bench over TCP at addr until SIGINT or SIGTERM.
func Run(bench Bench, addr netip.AddrPort, opts ...Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Serve(ctx, bench, addr, opts...)
}

// RunLocal serves bench over a unix stream socket at path until SIGINT or SIGTERM.
func RunLocal(bench Bench, path string, opts ...Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ServeLocal(ctx, bench, path, opts...)
}

// Serve serves bench over TCP at addr until ctx is done.
func Serve(ctx context.Context, bench Bench, addr netip.AddrPort, opts ...Option) error {
	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		return err
	}
	return serve(ctx, ln, New(bench), newOptions(opts))
}

// ServeLocal serves bench over a unix stream socket at path until ctx is
// done. The socket file is removed on return.
func ServeLocal(ctx context.Context, bench Bench, path string, opts ...Option) error {
	ln, err := listenUnix(path)
	if err != nil {
		return err
	}
	return serve(ctx, ln, New(bench), newOptions(opts))
}

// listenUnix binds a unix socket at path, replacing a stale socket file left
// by a previous process. A live socket or a non-socket file is an error.
func listenUnix(path string) (net.Listener, error) {
	if c, err := net.Dial("unix", path); err == nil {
		c.Close()
		return nil, fmt.Errorf("%s: address already in use", path)
	}
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s: file exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(true)
	return ln, nil
}

func serve(ctx context.Context, ln net.Listener, s *Server, o options) error {
	g, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: o.readHeaderTimeout,
		// Requests blocked in AwaitEvent are released on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	logrus.Infof("serving on %s://%s", ln.Addr().Network(), ln.Addr())

	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logrus.Infof("shutting down")
		s.haltAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
