package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"multiblock.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/edit", "editor ws url")
		name     = flag.String("name", "bot", "client name")
		ox       = flag.Int("x", 0, "shell origin x")
		oy       = flag.Int("y", 0, "shell origin y")
		oz       = flag.Int("z", 0, "shell origin z")
		size     = flag.Int("size", 3, "cube edge length")
		activate = flag.Bool("activate", true, "switch the structure on once placed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	b := &builder{conn: conn, name: *name, log: logger}
	welcome, err := b.hello()
	if err != nil {
		logger.Fatalf("handshake: %v", err)
	}
	logger.Printf("WELCOME session=%s world=%s tick=%d palette=%d", welcome.SessionID, welcome.WorldID, welcome.Tick, len(welcome.BlockPalette))

	origin := [3]int{*ox, *oy, *oz}
	edits := shellEdits(origin, *size)
	if *activate {
		edits = append(edits, protocol.EditMsg{Op: "SET_ACTIVE", Pos: origin, Active: true})
	}
	queued, rejected, err := b.send(ctx, edits)
	if err != nil {
		logger.Fatalf("send: %v", err)
	}
	logger.Printf("done queued=%d rejected=%d", queued, rejected)
}

type builder struct {
	conn *websocket.Conn
	name string
	log  *log.Logger
	seq  int
}

func (b *builder) hello() (protocol.WelcomeMsg, error) {
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      b.name,
		MaxQueue:        8,
	}
	if err := b.conn.WriteJSON(hello); err != nil {
		return protocol.WelcomeMsg{}, err
	}
	var w protocol.WelcomeMsg
	_ = b.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := b.conn.ReadJSON(&w); err != nil {
		return w, err
	}
	if w.Type != protocol.TypeWelcome {
		return w, fmt.Errorf("expected WELCOME, got %s", w.Type)
	}
	return w, nil
}

// send writes each edit and waits for its ACK. A busy world is retried after
// a short pause.
func (b *builder) send(ctx context.Context, edits []protocol.EditMsg) (queued, rejected int, err error) {
	for _, e := range edits {
		b.seq++
		e.Type = protocol.TypeEdit
		e.ProtocolVersion = protocol.Version
		e.Ref = fmt.Sprintf("%s_%d", b.name, b.seq)
		for {
			if err := ctx.Err(); err != nil {
				return queued, rejected, err
			}
			ack, err := b.roundTrip(e)
			if err != nil {
				return queued, rejected, err
			}
			if ack.Code == protocol.ErrWorldBusy {
				time.Sleep(200 * time.Millisecond)
				continue
			}
			if ack.Queued {
				queued++
			} else {
				rejected++
				b.log.Printf("rejected ref=%s op=%s pos=%v code=%s msg=%s", ack.Ref, e.Op, e.Pos, ack.Code, ack.Message)
			}
			break
		}
	}
	return queued, rejected, nil
}

func (b *builder) roundTrip(e protocol.EditMsg) (protocol.AckMsg, error) {
	if err := b.conn.WriteJSON(e); err != nil {
		return protocol.AckMsg{}, err
	}
	for {
		_ = b.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			return protocol.AckMsg{}, err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeAck {
			continue
		}
		var ack protocol.AckMsg
		if err := json.Unmarshal(msg, &ack); err != nil {
			return ack, err
		}
		if ack.Ref == e.Ref {
			return ack, nil
		}
	}
}

// shellEdits places a hollow cube with a valve on the origin corner.
func shellEdits(origin [3]int, size int) []protocol.EditMsg {
	if size < 1 {
		return nil
	}
	var out []protocol.EditMsg
	last := size - 1
	for y := 0; y < size; y++ {
		for z := 0; z < size; z++ {
			for x := 0; x < size; x++ {
				if x > 0 && x < last && y > 0 && y < last && z > 0 && z < last {
					continue
				}
				block := "TANK_FRAME"
				if x == 0 && y == 0 && z == 0 {
					block = "TANK_VALVE"
				}
				out = append(out, protocol.EditMsg{
					Op:    "PLACE",
					Pos:   [3]int{origin[0] + x, origin[1] + y, origin[2] + z},
					Block: block,
				})
			}
		}
	}
	return out
}
