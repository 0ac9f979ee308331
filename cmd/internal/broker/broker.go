// Package broker implements the board broker: the process-wide matchmaking
// and routing engine between user sessions and board sessions.
//
// All assignment state (the idle pool and the user<->board bindings) is
// owned by a single goroutine and reached only through a command channel.
// Every operation reads and writes state within one serialized step, which
// is what keeps the binding bijection trivially intact under concurrent
// callers.
package broker

import (
	"context"
	"log/slog"
	"time"

	"fpgalab/cmd/internal/proto"
)

const (
	defaultReconcileInterval = 5 * time.Second
	commandQueueSize         = 256
)

// BoardStatus is one row of the admin board listing.
type BoardStatus struct {
	Info proto.BoardInfo `json:"info"`
	// User is the bound user name, nil while the board sits in the idle pool.
	User *string `json:"user"`
}

// Options tunes broker behavior. The zero value is usable.
type Options struct {
	// ReconcileInterval is the cadence of the liveness sweep. <= 0 selects
	// the 5s default.
	ReconcileInterval time.Duration
}

type binding struct {
	user  *UserHandle
	board *BoardHandle
}

// Broker owns the idle pool and the bindings. Construct with New, then run
// the serial loop with Run; all exported methods are safe from any
// goroutine and never block on session I/O.
type Broker struct {
	log     *slog.Logger
	metrics *metrics
	tick    time.Duration

	cmds    chan command
	stopped chan struct{}

	// Owned exclusively by the run loop.
	idle    []*BoardHandle    // LIFO: most recently registered at the tail
	byUser  map[string]*binding
	byBoard map[uint64]string // board handle id -> bound user name
}

type command interface{ apply(*Broker) }

// New constructs a Broker. Metrics are registered against reg when non-nil.
func New(log *slog.Logger, reg metricsRegisterer, opts Options) *Broker {
	tick := opts.ReconcileInterval
	if tick <= 0 {
		tick = defaultReconcileInterval
	}
	return &Broker{
		log:     log,
		metrics: newMetrics(reg),
		tick:    tick,
		cmds:    make(chan command, commandQueueSize),
		stopped: make(chan struct{}),
		byUser:  make(map[string]*binding),
		byBoard: make(map[uint64]string),
	}
}

// Run executes the serial loop until ctx is cancelled. Commands from a
// single sender are applied in the order sent; the reconcile tick is just
// another serialized step.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.stopped)

	b.log.Info("broker.start", "reconcile_interval", b.tick)

	t := time.NewTicker(b.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("broker.stop")
			return
		case <-t.C:
			b.reconcile()
		case cmd := <-b.cmds:
			cmd.apply(b)
		}
	}
}

// enqueue submits a command, giving up silently once the loop has exited.
func (b *Broker) enqueue(cmd command) {
	select {
	case b.cmds <- cmd:
	case <-b.stopped:
	}
}

// ---- public operations ----

type registerBoardCmd struct{ h *BoardHandle }

// RegisterBoard adds an authenticated board to the idle pool. Duplicate
// device descriptors are tolerated as distinct handles.
func (b *Broker) RegisterBoard(h *BoardHandle) {
	if h == nil {
		return
	}
	b.enqueue(registerBoardCmd{h: h})
}

func (c registerBoardCmd) apply(b *Broker) {
	b.idle = append(b.idle, c.h)
	b.log.Info("broker.board.register",
		"remote", c.h.info.Remote,
		"software_version", c.h.info.SoftwareVersion,
		"hardware_version", c.h.info.HardwareVersion,
	)
	b.updateGauges()
}

type requestForBoardCmd struct{ user *UserHandle }

// RequestForBoard asks for an idle board on behalf of user. The outcome is
// delivered asynchronously to the user's sink as a BoardAllocateResult; a
// repeat request under the same name evicts the prior binding first and
// recycles its board.
func (b *Broker) RequestForBoard(user *UserHandle) {
	if user == nil {
		return
	}
	b.enqueue(requestForBoardCmd{user: user})
}

func (c requestForBoardCmd) apply(b *Broker) {
	name := c.user.name

	// Takeover: a repeat request releases the old board back to the pool.
	// The superseded session gets no notice on this path; it is simply no
	// longer bound.
	if old, ok := b.byUser[name]; ok {
		b.dropBinding(old)
		b.idle = append(b.idle, old.board)
		b.metrics.takeovers.Inc()
		b.log.Info("broker.user.takeover", "user", name, "board", old.board.info.Remote)
	}

	board := b.popIdle()
	if board == nil {
		b.metrics.allocationMisses.Inc()
		b.log.Info("broker.board.allocate.miss", "user", name)
		trySendUser(c.user, proto.UserEvent{BoardAllocateResult: &proto.AllocateResult{}})
		b.updateGauges()
		return
	}

	bind := &binding{user: c.user, board: board}
	b.byUser[name] = bind
	b.byBoard[board.id] = name

	b.metrics.allocations.Inc()
	b.log.Info("broker.board.allocate", "user", name, "board", board.info.Remote)

	remote := board.info.Remote
	trySendUser(c.user, proto.UserEvent{BoardAllocateResult: &proto.AllocateResult{Remote: &remote}})
	b.updateGauges()
}

type routeToBoardCmd struct {
	user string
	cmd  proto.BoardCommand
}

// RouteToBoard forwards a command to the board bound to user. A miss is a
// silent no-op: the transport carries no acknowledgments either.
func (b *Broker) RouteToBoard(user *UserHandle, cmd proto.BoardCommand) {
	if user == nil {
		return
	}
	b.enqueue(routeToBoardCmd{user: user.name, cmd: cmd})
}

func (c routeToBoardCmd) apply(b *Broker) {
	bind, ok := b.byUser[c.user]
	if !ok {
		return
	}
	trySendBoard(bind.board, BoardDelivery{Command: &c.cmd})
}

type programBitstreamCmd struct {
	user *UserHandle
	data []byte
}

// ProgramBitstream pushes a bitstream payload to the user's bound board.
// When there is no binding, or the board is unreachable, the caller gets an
// immediate ProgramBitstreamFinish(false) so "never sent" is distinguishable
// from a board-side rejection.
func (b *Broker) ProgramBitstream(user *UserHandle, data []byte) {
	if user == nil {
		return
	}
	b.enqueue(programBitstreamCmd{user: user, data: data})
}

func (c programBitstreamCmd) apply(b *Broker) {
	fail := false

	bind, ok := b.byUser[c.user.name]
	if !ok {
		fail = true
	} else if !trySendBoard(bind.board, BoardDelivery{Bitstream: c.data}) {
		fail = true
	}

	if fail {
		v := false
		trySendUser(c.user, proto.UserEvent{ProgramBitstreamFinish: &v})
	}
}

type routeToUserCmd struct {
	board *BoardHandle
	ev    proto.UserEvent
}

// RouteToUser forwards an unsolicited board report (I/O change, programming
// completion) to the user bound to board, if any.
func (b *Broker) RouteToUser(board *BoardHandle, ev proto.UserEvent) {
	if board == nil {
		return
	}
	b.enqueue(routeToUserCmd{board: board, ev: ev})
}

func (c routeToUserCmd) apply(b *Broker) {
	name, ok := b.byBoard[c.board.id]
	if !ok {
		return
	}
	if bind, ok := b.byUser[name]; ok {
		trySendUser(bind.user, c.ev)
	}
}

type sendByRemoteCmd struct {
	remote string
	cmd    proto.BoardCommand
	reply  chan bool
}

// SendToBoardByRemote delivers a command to a board selected by its declared
// remote identity, whether idle or bound. Used by the admin surface for
// identify/config actions. Reports whether a matching board was found.
func (b *Broker) SendToBoardByRemote(remote string, cmd proto.BoardCommand) bool {
	reply := make(chan bool, 1)
	b.enqueue(sendByRemoteCmd{remote: remote, cmd: cmd, reply: reply})
	select {
	case found := <-reply:
		return found
	case <-b.stopped:
		return false
	}
}

func (c sendByRemoteCmd) apply(b *Broker) {
	for _, h := range b.idle {
		if h.info.Remote == c.remote {
			trySendBoard(h, BoardDelivery{Command: &c.cmd})
			c.reply <- true
			return
		}
	}
	for _, bind := range b.byUser {
		if bind.board.info.Remote == c.remote {
			trySendBoard(bind.board, BoardDelivery{Command: &c.cmd})
			c.reply <- true
			return
		}
	}
	c.reply <- false
}

type boardListCmd struct{ reply chan []BoardStatus }

// BoardList returns a point-in-time snapshot of every known board and its
// bound user, if any. Ordering is unspecified.
func (b *Broker) BoardList() []BoardStatus {
	reply := make(chan []BoardStatus, 1)
	b.enqueue(boardListCmd{reply: reply})
	select {
	case list := <-reply:
		return list
	case <-b.stopped:
		return nil
	}
}

func (c boardListCmd) apply(b *Broker) {
	out := make([]BoardStatus, 0, len(b.idle)+len(b.byUser))
	for _, h := range b.idle {
		out = append(out, BoardStatus{Info: h.info})
	}
	for name, bind := range b.byUser {
		n := name
		out = append(out, BoardStatus{Info: bind.board.info, User: &n})
	}
	c.reply <- out
}

type reconcileCmd struct{}

func (reconcileCmd) apply(b *Broker) { b.reconcile() }

// ---- internals (run loop only) ----

// popIdle pops the most recently registered live board (LIFO: freshly
// (re)booted devices are the most likely healthy ones). Dead boards found on
// the way are dropped, same as the reconcile sweep would.
func (b *Broker) popIdle() *BoardHandle {
	for len(b.idle) > 0 {
		h := b.idle[len(b.idle)-1]
		b.idle = b.idle[:len(b.idle)-1]
		if h.Alive() {
			return h
		}
		b.metrics.boardDrops.Inc()
		b.log.Info("broker.board.drop.dead", "remote", h.info.Remote)
	}
	return nil
}

func (b *Broker) dropBinding(bind *binding) {
	delete(b.byUser, bind.user.name)
	delete(b.byBoard, bind.board.id)
}

// reconcile repairs state after disconnects:
// dead idle boards are dropped; a dead board with a live user produces one
// BoardDisconnected notice and the binding is removed (the board never goes
// back to idle); a dead user with a live board releases the board to idle.
func (b *Broker) reconcile() {
	live := b.idle[:0]
	for _, h := range b.idle {
		if h.Alive() {
			live = append(live, h)
			continue
		}
		b.metrics.boardDrops.Inc()
		b.log.Info("broker.board.drop.dead", "remote", h.info.Remote)
	}
	b.idle = live

	for name, bind := range b.byUser {
		boardAlive := bind.board.Alive()
		userAlive := bind.user.Alive()

		switch {
		case boardAlive && userAlive:
			// Healthy binding.
		case !boardAlive && userAlive:
			b.dropBinding(bind)
			b.metrics.boardDisconnects.Inc()
			b.log.Info("broker.binding.board_lost", "user", name, "board", bind.board.info.Remote)
			reason := ""
			trySendUser(bind.user, proto.UserEvent{BoardDisconnected: &reason})
		case boardAlive && !userAlive:
			b.dropBinding(bind)
			b.idle = append(b.idle, bind.board)
			b.log.Info("broker.binding.user_lost", "user", name, "board", bind.board.info.Remote)
		default:
			b.dropBinding(bind)
			b.log.Info("broker.binding.both_lost", "user", name, "board", bind.board.info.Remote)
		}
	}

	b.updateGauges()
}

func (b *Broker) updateGauges() {
	b.metrics.idleBoards.Set(float64(len(b.idle)))
	b.metrics.boundBoards.Set(float64(len(b.byUser)))
}
