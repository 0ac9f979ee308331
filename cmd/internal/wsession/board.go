package wsession

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"fpgalab/cmd/internal/broker"
	"fpgalab/cmd/internal/proto"

	"github.com/coder/websocket"
)

// BoardGateway is the websocket entrypoint for physical boards.
//
// A board connects, authenticates with the shared device password, and is
// then registered with the broker exactly once. Everything it reports
// afterwards is routed to whichever user holds it.
type BoardGateway struct {
	log    *slog.Logger
	broker *broker.Broker
	pass   string
	cfg    Config
}

// NewBoardGateway constructs the gateway. pass is the device password; an
// empty value only matches boards that send an empty password.
func NewBoardGateway(log *slog.Logger, brk *broker.Broker, pass string, cfg Config) *BoardGateway {
	return &BoardGateway{log: log, broker: brk, pass: pass, cfg: cfg.withDefaults()}
}

// ServeHTTP adapter so the gateway mounts as an http.Handler.
func (g *BoardGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the board session loop.
func (g *BoardGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	// Boards are devices, not browsers: no Origin header, no origin policy.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		g.log.Error("ws_board.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)
	remote := remoteAddr(r)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.log.Info("ws_board.online", "remote", remote)

	// Authentication phase: the very first frame decides everything.
	info, ok := g.authenticate(ctx, conn, remote)
	if !ok {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}

	done := make(chan struct{})
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	handle := broker.NewBoardHandle(info, g.cfg.QueueSize, done)
	g.broker.RegisterBoard(handle)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case d := <-handle.Deliveries():
				if err := g.deliver(ctx, conn, d); err != nil {
					g.log.Info("ws_board.write.fail", "remote", remote, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	go heartbeat(ctx, conn, done, g.cfg.HeartbeatEvery, g.cfg.HeartbeatTimeout, func() {
		g.log.Warn("ws_board.heartbeat.lost", "remote", remote)
		shutdown(websocket.StatusGoingAway, "heartbeat failed")
	})

	g.readLoop(ctx, conn, handle, remote, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	g.log.Info("ws_board.offline", "remote", remote)
}

// authenticate reads the first frame, which must be an Authenticate with the
// right password. Anything else terminates the connection.
func (g *BoardGateway) authenticate(ctx context.Context, conn *websocket.Conn, remote string) (proto.BoardInfo, bool) {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	mt, data, err := conn.Read(authCtx)
	if err != nil || mt != websocket.MessageText {
		g.log.Warn("ws_board.auth.no_frame", "remote", remote)
		return proto.BoardInfo{}, false
	}

	var msg proto.BoardMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Authenticate == nil {
		g.log.Warn("ws_board.auth.bad_frame", "remote", remote)
		return proto.BoardInfo{}, false
	}
	if msg.Authenticate.Password != g.pass {
		g.log.Warn("ws_board.auth.bad_password", "remote", remote)
		return proto.BoardInfo{}, false
	}

	g.log.Info("ws_board.auth.ok",
		"remote", remote,
		"software_version", msg.Authenticate.SoftwareVersion,
		"hardware_version", msg.Authenticate.HardwareVersion,
	)
	return proto.BoardInfo{
		Remote:          remote,
		SoftwareVersion: msg.Authenticate.SoftwareVersion,
		HardwareVersion: msg.Authenticate.HardwareVersion,
	}, true
}

func (g *BoardGateway) deliver(ctx context.Context, conn *websocket.Conn, d broker.BoardDelivery) error {
	if d.Command != nil {
		data, err := json.Marshal(d.Command)
		if err != nil {
			return err
		}
		return writeText(ctx, conn, data, g.cfg.WriteTimeout)
	}
	return writeBinary(ctx, conn, d.Bitstream, g.cfg.WriteTimeout)
}

func (g *BoardGateway) readLoop(ctx context.Context, conn *websocket.Conn, handle *broker.BoardHandle, remote string, shutdown func(websocket.StatusCode, string)) {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone, readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws_board.read.fail", "remote", remote, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		if mt != websocket.MessageText {
			// No board-to-server binary path in the protocol.
			continue
		}

		var msg proto.BoardMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.log.Warn("ws_board.bad_message", "remote", remote)
			shutdown(websocket.StatusProtocolError, "bad message")
			return
		}

		switch {
		case msg.ReportIOChange != nil:
			g.broker.RouteToUser(handle, proto.UserEvent{ReportIOChange: msg.ReportIOChange})
		case msg.ProgramBitstreamFinish != nil:
			g.broker.RouteToUser(handle, proto.UserEvent{ProgramBitstreamFinish: msg.ProgramBitstreamFinish})
		case msg.Authenticate != nil:
			// Already authenticated; a repeat is harmless noise.
		}
	}
}
