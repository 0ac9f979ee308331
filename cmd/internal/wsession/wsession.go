// Package wsession owns the websocket sessions on both sides of the broker:
// board sessions (devices) and user sessions (lab clients).
//
// Each session runs three goroutines: a writer draining the broker-facing
// sink, a heartbeat pinger, and the inbound read loop. Liveness is the
// session's done channel; closing it revokes every handle built on top and
// the broker notices on its next reconcile sweep.
package wsession

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	// Inbound frames are JSON control traffic; bitstreams only ever travel
	// outbound (server to board).
	maxFrameBytes = 64 << 10

	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second

	// Ping every 5s; six consecutive failures means 30s without liveness.
	defaultHeartbeatEvery   = 5 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	maxPingFailures         = 6

	// The first board frame must be an Authenticate.
	authTimeout = 30 * time.Second
)

// Config tunes session behavior; the zero value selects defaults.
type Config struct {
	QueueSize        int
	WriteTimeout     time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	// AllowedOrigins is matched against browser Origin hosts on the user
	// endpoint (websocket.AcceptOptions.OriginPatterns). Empty means
	// same-host only.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	return c
}

// Identity resolves the authenticated user name for an incoming websocket
// request. Implemented by the account session layer.
type Identity interface {
	UserName(r *http.Request) (string, error)
}

func writeText(parent context.Context, conn *websocket.Conn, data []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func writeBinary(parent context.Context, conn *websocket.Conn, data []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageBinary, data)
}

// heartbeat pings until the session ends, closing it after too many
// consecutive failures. conn.Ping completes only once the pong arrives, so
// a successful ping is a full round trip.
func heartbeat(ctx context.Context, conn *websocket.Conn, done <-chan struct{}, every, timeout time.Duration, onDead func()) {
	t := time.NewTicker(every)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err != nil {
				failures++
				if failures >= maxPingFailures {
					onDead()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// remoteAddr prefers the proxy-provided client address when present.
func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
