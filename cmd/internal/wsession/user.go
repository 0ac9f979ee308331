package wsession

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"fpgalab/cmd/internal/artifact"
	"fpgalab/cmd/internal/broker"
	"fpgalab/cmd/internal/job"
	"fpgalab/cmd/internal/proto"

	"github.com/coder/websocket"
)

// UserGateway is the websocket entrypoint for lab clients.
//
// Identity is resolved once at accept time from the account session; with
// AllowAnonymous set (debug deployments) an unauthenticated client gets an
// address-derived name instead of a rejection.
type UserGateway struct {
	log       *slog.Logger
	broker    *broker.Broker
	jobs      job.Store
	artifacts artifact.Fetcher
	identity  Identity

	allowAnonymous bool
	cfg            Config
}

// NewUserGateway constructs the gateway. identity may be nil only when
// allowAnonymous is true.
func NewUserGateway(
	log *slog.Logger,
	brk *broker.Broker,
	jobs job.Store,
	artifacts artifact.Fetcher,
	identity Identity,
	allowAnonymous bool,
	cfg Config,
) *UserGateway {
	return &UserGateway{
		log:            log,
		broker:         brk,
		jobs:           jobs,
		artifacts:      artifacts,
		identity:       identity,
		allowAnonymous: allowAnonymous,
		cfg:            cfg.withDefaults(),
	}
}

// ServeHTTP adapter so the gateway mounts as an http.Handler.
func (g *UserGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS resolves identity, upgrades the request, and runs the user
// session loop.
func (g *UserGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	userName := g.resolveUser(r)
	if userName == "" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.AllowedOrigins,
	})
	if err != nil {
		g.log.Error("ws_user.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)
	remote := remoteAddr(r)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.log.Info("ws_user.online", "user", userName, "remote", remote)

	done := make(chan struct{})
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	handle := broker.NewUserHandle(userName, g.cfg.QueueSize, done)

	// hasBoard mirrors broker state as seen through our own event stream.
	// It only short-circuits requests that cannot succeed; the broker stays
	// the source of truth.
	var hasBoard atomic.Bool

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case ev := <-handle.Events():
				switch {
				case ev.BoardAllocateResult != nil:
					hasBoard.Store(ev.BoardAllocateResult.Remote != nil)
				case ev.BoardDisconnected != nil:
					hasBoard.Store(false)
				}

				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := writeText(ctx, conn, data, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws_user.write.fail", "user", userName, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	go heartbeat(ctx, conn, done, g.cfg.HeartbeatEvery, g.cfg.HeartbeatTimeout, func() {
		g.log.Warn("ws_user.heartbeat.lost", "user", userName)
		shutdown(websocket.StatusGoingAway, "heartbeat failed")
	})

	g.readLoop(ctx, conn, handle, userName, &hasBoard, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	g.log.Info("ws_user.offline", "user", userName)
}

func (g *UserGateway) resolveUser(r *http.Request) string {
	if g.identity != nil {
		if name, err := g.identity.UserName(r); err == nil && name != "" {
			return name
		}
	}
	if g.allowAnonymous {
		return fmt.Sprintf("Anonymous-%s", remoteAddr(r))
	}
	return ""
}

func (g *UserGateway) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	handle *broker.UserHandle,
	userName string,
	hasBoard *atomic.Bool,
	shutdown func(websocket.StatusCode, string),
) {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone, readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws_user.read.fail", "user", userName, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		if mt != websocket.MessageText {
			continue
		}

		var msg proto.UserMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.log.Warn("ws_user.bad_message", "user", userName)
			shutdown(websocket.StatusProtocolError, "bad message")
			return
		}

		switch {
		case msg.RequestForBoard != nil:
			if !hasBoard.Load() {
				g.broker.RequestForBoard(handle)
			}
		case msg.ToBoard != nil:
			if hasBoard.Load() {
				g.broker.RouteToBoard(handle, *msg.ToBoard)
			}
		case msg.ProgramBitstream != nil:
			g.programBitstream(ctx, handle, userName, *msg.ProgramBitstream)
		}
	}
}

// programBitstream resolves the job and downloads the artifact off the read
// loop; only the final handoff touches the broker. Any local failure yields
// exactly one ProgramBitstreamFinish(false) so the client can tell "never
// sent" from a board-side rejection.
func (g *UserGateway) programBitstream(ctx context.Context, handle *broker.UserHandle, userName string, jobID int64) {
	fail := func(why string) {
		g.log.Info("ws_user.program.reject", "user", userName, "job_id", jobID, "reason", why)
		v := false
		handle.Notify(proto.UserEvent{ProgramBitstreamFinish: &v})
	}

	if g.jobs == nil || g.artifacts == nil {
		fail("no job storage configured")
		return
	}

	go func() {
		j, err := g.jobs.GetByID(ctx, jobID)
		if err != nil {
			fail("unknown job")
			return
		}
		if j.Submitter != userName {
			fail("not the submitter")
			return
		}
		if !j.Done() {
			fail("job not finished")
			return
		}

		data, err := g.artifacts.Fetch(ctx, *j.Destination)
		if err != nil {
			fail("artifact download failed")
			return
		}
		g.broker.ProgramBitstream(handle, data)
	}()
}
