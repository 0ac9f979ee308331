// Package main provides a mock FPGA board for local development and smoke
// testing.
//
// It connects to the board websocket endpoint, authenticates with the
// device password, and then behaves like a well-mannered board:
//   - answers SetIOOutput/SetIODirection by remembering the pin state
//   - while subscribed, reports a pin toggle every -report interval
//   - acknowledges every bitstream frame with ProgramBitstreamFinish(true)
//   - logs Ident requests
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fpgalab/cmd/internal/proto"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws/board", "Board WebSocket URL")
		pass     = flag.String("pass", "", "Device password")
		swVer    = flag.String("software-version", "mock-1.0", "Reported software version")
		hwVer    = flag.String("hardware-version", "mock", "Reported hardware version")
		report   = flag.Duration("report", 2*time.Second, "IO change report interval while subscribed")
		progWait = flag.Duration("program-delay", 500*time.Millisecond, "Simulated programming time")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, *wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(maxReadBytes)

	auth := proto.BoardMessage{Authenticate: &proto.AuthenticateArgs{
		Password:        *pass,
		SoftwareVersion: *swVer,
		HardwareVersion: *hwVer,
	}}
	if err := writeJSON(ctx, conn, auth); err != nil {
		fatalf("authenticate: %v", err)
	}
	fmt.Println("authenticated, waiting for commands")

	var (
		subscribed bool
		mask       = "0000"
		data       = "0000"
		toggle     bool
	)

	ticker := time.NewTicker(*report)
	defer ticker.Stop()

	frames := make(chan frame, 16)
	go readLoop(ctx, conn, frames)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return

		case <-ticker.C:
			if !subscribed {
				continue
			}
			toggle = !toggle
			if toggle {
				data = "ffff"
			} else {
				data = "0000"
			}
			rep := proto.BoardMessage{ReportIOChange: &proto.IOSetting{Mask: &mask, Data: &data}}
			if err := writeJSON(ctx, conn, rep); err != nil {
				fatalf("report: %v", err)
			}
			fmt.Printf("reported io change data=%s\n", data)

		case f, ok := <-frames:
			if !ok {
				fmt.Println("server closed the connection")
				return
			}
			if f.binary != nil {
				fmt.Printf("received bitstream (%d bytes), programming...\n", len(f.binary))
				time.Sleep(*progWait)
				done := true
				fin := proto.BoardMessage{ProgramBitstreamFinish: &done}
				if err := writeJSON(ctx, conn, fin); err != nil {
					fatalf("finish: %v", err)
				}
				continue
			}

			cmd := f.command
			switch {
			case cmd.SetIOOutput != nil:
				applyIO(&mask, &data, cmd.SetIOOutput)
				fmt.Printf("io output set mask=%s data=%s\n", mask, data)
			case cmd.SetIODirection != nil:
				fmt.Println("io direction set")
			case cmd.SubscribeIOChange:
				subscribed = true
				fmt.Println("subscribed to io changes")
			case cmd.UnsubscribeIOChange:
				subscribed = false
				fmt.Println("unsubscribed from io changes")
			case cmd.Ident != nil:
				fmt.Printf("ident: %v\n", *cmd.Ident)
			}
		}
	}
}

type frame struct {
	command *proto.BoardCommand
	binary  []byte
}

func readLoop(ctx context.Context, conn *websocket.Conn, out chan<- frame) {
	defer close(out)

	for {
		mt, payload, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if mt == websocket.MessageBinary {
			out <- frame{binary: payload}
			continue
		}

		var cmd proto.BoardCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			fmt.Fprintf(os.Stderr, "bad command frame: %v\n", err)
			continue
		}
		out <- frame{command: &cmd}
	}
}

func applyIO(mask, data *string, s *proto.IOSetting) {
	if s.Mask != nil {
		*mask = *s.Mask
	}
	if s.Data != nil {
		*data = *s.Data
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
