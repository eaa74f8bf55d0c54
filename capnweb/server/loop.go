// Package server provides a small accept loop that turns incoming TCP or
// WebSocket connections into capnweb Sessions, mirroring the way the
// teacher's serve_command wires a transport listener to a fixed set of
// long-lived handlers.
package server

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"

	"github.com/nikileshsa/capnweb-go/capnweb"
	"github.com/nikileshsa/capnweb-go/capnweb/channel"
)

// NewTarget builds the capability a newly accepted connection should
// expose as its main capability. It is called once per connection so each
// session can get its own, independently disposable, state.
type NewTarget func() capnweb.Target

// Loop accepts connections on ln until ctx is canceled, running one Session
// per connection with its main capability produced by newTarget. Per-
// session Serve errors are logged rather than propagated, since one
// session's failure must not take the listener down; Loop itself blocks
// until ctx is done or the listener fails.
func Loop(ctx context.Context, ln net.Listener, newTarget NewTarget, l *log.Logger, opts ...capnweb.Option) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var errs *multierror.Error
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				errs = multierror.Append(errs, err)
				return errs.ErrorOrNil()
			}
		}
		go func(c net.Conn) {
			defer c.Close()
			ch := channel.NewLine(c, c)
			sess := capnweb.NewSession(ch, newTarget(), opts...)
			if err := sess.Serve(ctx); err != nil {
				l.Printf("capnweb: session on %s ended: %v", c.RemoteAddr(), err)
			}
		}(conn)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler returns an http.Handler that upgrades each request to a
// WebSocket and runs a capnweb Session over it until the connection closes
// or ctx is canceled.
func WebSocketHandler(ctx context.Context, newTarget NewTarget, l *log.Logger, opts ...capnweb.Option) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.Printf("capnweb: websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		ch := channel.NewWebSocket(conn)
		sess := capnweb.NewSession(ch, newTarget(), opts...)
		if err := sess.Serve(ctx); err != nil {
			l.Printf("capnweb: websocket session from %s ended: %v", r.RemoteAddr, err)
		}
	})
}

// BatchHandler returns an http.Handler that runs a single capnweb session
// synchronously over one request body: every frame in the body is fed to a
// fresh Session, and the resolve/reject/release frames it emits in
// response are written back as the HTTP response body (spec §1's "HTTP
// batch endpoint").
func BatchHandler(newTarget NewTarget, l *log.Logger, opts ...capnweb.Option) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := channel.NewBatch(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sess := capnweb.NewSession(b, newTarget(), opts...)
		if err := sess.Serve(r.Context()); err != nil && err != io.EOF {
			l.Printf("capnweb: batch session error: %v", err)
		}
		sess.Idle()
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write(b.Written())
	})
}
