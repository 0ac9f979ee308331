package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"fpgalab/cmd/internal/proto"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Long interval: tests drive reconciliation explicitly.
	b := New(log, nil, Options{ReconcileInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(cancel)
	return b
}

type fakeBoard struct {
	h    *BoardHandle
	done chan struct{}
}

func newFakeBoard(remote string) *fakeBoard {
	done := make(chan struct{})
	info := proto.BoardInfo{Remote: remote, SoftwareVersion: "1.0", HardwareVersion: "0.1"}
	return &fakeBoard{h: NewBoardHandle(info, 8, done), done: done}
}

func (f *fakeBoard) kill() { close(f.done) }

type fakeUser struct {
	h    *UserHandle
	done chan struct{}
}

func newFakeUser(name string) *fakeUser {
	done := make(chan struct{})
	return &fakeUser{h: NewUserHandle(name, 8, done), done: done}
}

func (f *fakeUser) kill() { close(f.done) }

// flush waits until every previously enqueued command has been applied, by
// riding the request/reply path through the same serial queue.
func flush(b *Broker) { _ = b.BoardList() }

func recvEvent(t *testing.T, u *fakeUser) proto.UserEvent {
	t.Helper()
	select {
	case ev := <-u.h.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for user event")
		return proto.UserEvent{}
	}
}

func wantNoEvent(t *testing.T, u *fakeUser) {
	t.Helper()
	select {
	case ev := <-u.h.Events():
		t.Fatalf("unexpected user event: %+v", ev)
	default:
	}
}

func recvDelivery(t *testing.T, f *fakeBoard) BoardDelivery {
	t.Helper()
	select {
	case d := <-f.h.Deliveries():
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for board delivery")
		return BoardDelivery{}
	}
}

func wantNoDelivery(t *testing.T, f *fakeBoard) {
	t.Helper()
	select {
	case d := <-f.h.Deliveries():
		t.Fatalf("unexpected board delivery: %+v", d)
	default:
	}
}

func wantAllocated(t *testing.T, u *fakeUser, remote string) {
	t.Helper()
	ev := recvEvent(t, u)
	if ev.BoardAllocateResult == nil {
		t.Fatalf("expected BoardAllocateResult, got %+v", ev)
	}
	if ev.BoardAllocateResult.Remote == nil {
		t.Fatalf("expected allocation of %q, got none", remote)
	}
	if got := *ev.BoardAllocateResult.Remote; got != remote {
		t.Fatalf("allocated %q, want %q", got, remote)
	}
}

func wantAllocateMiss(t *testing.T, u *fakeUser) {
	t.Helper()
	ev := recvEvent(t, u)
	if ev.BoardAllocateResult == nil || ev.BoardAllocateResult.Remote != nil {
		t.Fatalf("expected empty BoardAllocateResult, got %+v", ev)
	}
}

func TestLIFOAssignment(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	for _, remote := range []string{"b1", "b2", "b3"} {
		b.RegisterBoard(newFakeBoard(remote).h)
	}

	alice := newFakeUser("alice")
	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b3")
}

func TestAllocateScenario(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	b.RegisterBoard(newFakeBoard("b1").h)
	b.RegisterBoard(newFakeBoard("b2").h)

	alice := newFakeUser("alice")
	bob := newFakeUser("bob")
	carol := newFakeUser("carol")

	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b2")

	b.RequestForBoard(bob.h)
	wantAllocated(t, bob, "b1")

	b.RequestForBoard(carol.h)
	wantAllocateMiss(t, carol)

	list := b.BoardList()
	if len(list) != 2 {
		t.Fatalf("board list has %d entries, want 2", len(list))
	}
	bound := map[string]string{}
	for _, st := range list {
		if st.User == nil {
			t.Fatalf("board %s is idle, want bound", st.Info.Remote)
		}
		bound[st.Info.Remote] = *st.User
	}
	if bound["b2"] != "alice" || bound["b1"] != "bob" {
		t.Fatalf("unexpected bindings: %v", bound)
	}
}

func TestTakeoverRecyclesBoard(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	b.RegisterBoard(newFakeBoard("b1").h)

	alice := newFakeUser("alice")
	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b1")

	// Same name requests again: the old binding is evicted, the board
	// returns to idle, and LIFO hands it right back.
	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b1")
	wantNoEvent(t, alice)

	list := b.BoardList()
	if len(list) != 1 || list[0].User == nil || *list[0].User != "alice" {
		t.Fatalf("unexpected board list after takeover: %+v", list)
	}
}

func TestTakeoverByNewConnection(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	b.RegisterBoard(newFakeBoard("b1").h)
	b.RegisterBoard(newFakeBoard("b2").h)

	old := newFakeUser("alice")
	b.RequestForBoard(old.h)
	wantAllocated(t, old, "b2")

	// A second connection under the same name supersedes the first. The old
	// handle gets no notice; the vacated board tops the stack again.
	fresh := newFakeUser("alice")
	b.RequestForBoard(fresh.h)
	wantAllocated(t, fresh, "b2")
	wantNoEvent(t, old)

	// Only one binding may exist per user name.
	list := b.BoardList()
	var boundCount int
	for _, st := range list {
		if st.User != nil {
			if *st.User != "alice" {
				t.Fatalf("unexpected bound user %q", *st.User)
			}
			boundCount++
		}
	}
	if boundCount != 1 {
		t.Fatalf("user has %d bindings, want 1", boundCount)
	}
}

func TestDeadUserReconciliation(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	b.RegisterBoard(newFakeBoard("b1").h)

	alice := newFakeUser("alice")
	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b1")

	alice.kill()
	b.enqueue(reconcileCmd{})
	flush(b)

	list := b.BoardList()
	if len(list) != 1 || list[0].User != nil {
		t.Fatalf("board should be idle after user death, got %+v", list)
	}

	// The released board is assignable again.
	bob := newFakeUser("bob")
	b.RequestForBoard(bob.h)
	wantAllocated(t, bob, "b1")
}

func TestDeadBoardReconciliation(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	board := newFakeBoard("b1")
	b.RegisterBoard(board.h)

	alice := newFakeUser("alice")
	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b1")

	board.kill()
	b.enqueue(reconcileCmd{})
	b.enqueue(reconcileCmd{})
	flush(b)

	// Exactly one notice even across repeated sweeps, and the dead board
	// never reappears in the pool.
	ev := recvEvent(t, alice)
	if ev.BoardDisconnected == nil {
		t.Fatalf("expected BoardDisconnected, got %+v", ev)
	}
	wantNoEvent(t, alice)

	if list := b.BoardList(); len(list) != 0 {
		t.Fatalf("dead board still listed: %+v", list)
	}
}

func TestDeadIdleBoardDropped(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	board := newFakeBoard("b1")
	b.RegisterBoard(board.h)
	board.kill()

	b.enqueue(reconcileCmd{})
	flush(b)

	if list := b.BoardList(); len(list) != 0 {
		t.Fatalf("dead idle board still listed: %+v", list)
	}
}

func TestRouteToBoard(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	board := newFakeBoard("b1")
	b.RegisterBoard(board.h)

	alice := newFakeUser("alice")

	// Unbound: silent no-op.
	mask := "ff"
	b.RouteToBoard(alice.h, proto.BoardCommand{SetIOOutput: &proto.IOSetting{Mask: &mask}})
	flush(b)
	wantNoDelivery(t, board)
	wantNoEvent(t, alice)

	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b1")

	b.RouteToBoard(alice.h, proto.BoardCommand{SubscribeIOChange: true})
	flush(b)

	d := recvDelivery(t, board)
	if d.Command == nil || !d.Command.SubscribeIOChange {
		t.Fatalf("board received %+v, want SubscribeIOChange", d)
	}
}

func TestProgramBitstream(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	alice := newFakeUser("alice")

	// Unbound: exactly one negative finish, nothing else.
	b.ProgramBitstream(alice.h, []byte{0xaa, 0x99})
	flush(b)
	ev := recvEvent(t, alice)
	if ev.ProgramBitstreamFinish == nil || *ev.ProgramBitstreamFinish {
		t.Fatalf("expected ProgramBitstreamFinish(false), got %+v", ev)
	}
	wantNoEvent(t, alice)

	board := newFakeBoard("b1")
	b.RegisterBoard(board.h)
	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b1")

	payload := []byte{0xaa, 0x99, 0x55, 0x66}
	b.ProgramBitstream(alice.h, payload)
	flush(b)

	d := recvDelivery(t, board)
	if string(d.Bitstream) != string(payload) {
		t.Fatalf("board received %x, want %x", d.Bitstream, payload)
	}
	wantNoEvent(t, alice)
}

func TestRouteToUser(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	board := newFakeBoard("b1")
	b.RegisterBoard(board.h)

	data := "0100"
	report := proto.UserEvent{ReportIOChange: &proto.IOSetting{Data: &data}}

	// No binding yet: dropped.
	b.RouteToUser(board.h, report)
	flush(b)

	alice := newFakeUser("alice")
	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b1")

	b.RouteToUser(board.h, report)
	flush(b)

	ev := recvEvent(t, alice)
	if ev.ReportIOChange == nil || ev.ReportIOChange.Data == nil || *ev.ReportIOChange.Data != data {
		t.Fatalf("user received %+v, want ReportIOChange(%q)", ev, data)
	}
	wantNoEvent(t, alice)
}

func TestSendToBoardByRemote(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	board := newFakeBoard("b1")
	b.RegisterBoard(board.h)

	alice := newFakeUser("alice")
	b.RequestForBoard(alice.h)
	wantAllocated(t, alice, "b1")

	ident := true
	if !b.SendToBoardByRemote("b1", proto.BoardCommand{Ident: &ident}) {
		t.Fatalf("expected b1 to be found while bound")
	}
	d := recvDelivery(t, board)
	if d.Command == nil || d.Command.Ident == nil || !*d.Command.Ident {
		t.Fatalf("board received %+v, want Ident(true)", d)
	}

	if b.SendToBoardByRemote("nope", proto.BoardCommand{Ident: &ident}) {
		t.Fatalf("expected unknown remote to report not found")
	}
}

func TestBijectionInvariant(t *testing.T) {
	t.Parallel()
	b := newTestBroker(t)

	boards := make([]*fakeBoard, 0, 4)
	for _, remote := range []string{"b1", "b2", "b3", "b4"} {
		f := newFakeBoard(remote)
		boards = append(boards, f)
		b.RegisterBoard(f.h)
	}

	users := []*fakeUser{newFakeUser("u1"), newFakeUser("u2"), newFakeUser("u3")}
	for _, u := range users {
		b.RequestForBoard(u.h)
		recvEvent(t, u)
	}

	// Churn: takeovers, a board death, a user death.
	b.RequestForBoard(users[0].h)
	recvEvent(t, users[0])
	boards[3].kill()
	users[2].kill()
	b.enqueue(reconcileCmd{})
	flush(b)

	list := b.BoardList()
	seenBoard := map[string]int{}
	seenUser := map[string]int{}
	for _, st := range list {
		seenBoard[st.Info.Remote]++
		if st.User != nil {
			seenUser[*st.User]++
		}
	}
	for remote, n := range seenBoard {
		if n != 1 {
			t.Fatalf("board %s listed %d times", remote, n)
		}
	}
	for user, n := range seenUser {
		if n != 1 {
			t.Fatalf("user %s bound %d times", user, n)
		}
	}
}
