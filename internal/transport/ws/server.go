package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"multiblock.ai/internal/protocol"
	"multiblock.ai/internal/sim/world"
)

// Server accepts block edits and region events from builder clients.
type Server struct {
	world *world.World
	log   *log.Logger

	blocks   map[string]struct{}
	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world:  w,
		log:    logger,
		blocks: map[string]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	for _, name := range w.BlockPalette() {
		s.blocks[name] = struct{}{}
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid, out := s.handshake(conn)
		if sid == "" {
			return
		}
		s.printf("editor join session=%s remote=%s", sid, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ack := s.handleMessage(ctx, msg)
			b, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}
		s.printf("editor leave session=%s", sid)
	}
}

func (s *Server) handleMessage(ctx context.Context, msg []byte) protocol.AckMsg {
	ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return reject(ack, protocol.ErrProtoBadRequest, "malformed message")
	}
	if base.ProtocolVersion != protocol.Version {
		return reject(ack, protocol.ErrProtoBadRequest, "bad protocol_version")
	}

	switch base.Type {
	case protocol.TypeEdit:
		var m protocol.EditMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return reject(ack, protocol.ErrProtoBadRequest, "malformed EDIT")
		}
		ack.Ref = m.Ref
		e, code, reason := s.toEdit(m)
		if code != "" {
			return reject(ack, code, reason)
		}
		if err := s.world.SubmitEdit(ctx, e); err != nil {
			if errors.Is(err, world.ErrBusy) {
				return reject(ack, protocol.ErrWorldBusy, err.Error())
			}
			return reject(ack, protocol.ErrInternal, err.Error())
		}
		ack.Queued = true
		return ack

	case protocol.TypeRegion:
		var m protocol.RegionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return reject(ack, protocol.ErrProtoBadRequest, "malformed REGION")
		}
		ack.Ref = m.Ref
		ev := world.RegionEvent{
			Load: m.Load,
			Min:  world.ChunkKey{CX: m.Min[0], CY: m.Min[1], CZ: m.Min[2]},
			Max:  world.ChunkKey{CX: m.Max[0], CY: m.Max[1], CZ: m.Max[2]},
		}
		if ev.Max.CX < ev.Min.CX || ev.Max.CY < ev.Min.CY || ev.Max.CZ < ev.Min.CZ {
			return reject(ack, protocol.ErrBadRequest, "inverted region bounds")
		}
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := s.world.SubmitRegion(rctx, ev); err != nil {
			return reject(ack, protocol.ErrWorldBusy, err.Error())
		}
		ack.Queued = true
		return ack

	default:
		return reject(ack, protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
	}
}

func (s *Server) toEdit(m protocol.EditMsg) (world.Edit, string, string) {
	pos := world.Vec3i{X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2]}
	switch world.EditOp(m.Op) {
	case world.OpPlace:
		if _, ok := s.blocks[m.Block]; !ok || m.Block == "AIR" {
			return world.Edit{}, protocol.ErrUnknownBlock, "unknown block " + m.Block
		}
		return world.PlaceBlock(pos, m.Block), "", ""
	case world.OpBreak:
		return world.BreakBlock(pos), "", ""
	case world.OpSetActive:
		return world.SetActive(pos, m.Active), "", ""
	default:
		return world.Edit{}, protocol.ErrBadRequest, "unknown op " + m.Op
	}
}

func reject(ack protocol.AckMsg, code, message string) protocol.AckMsg {
	ack.Queued = false
	ack.Code = code
	ack.Message = message
	return ack
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)
	sessionID = uuid.NewString()

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		WorldID:         s.world.ID(),
		Tick:            s.world.CurrentTick(),
		TickRateHz:      s.world.Config().TickRateHz,
		BlockPalette:    s.world.BlockPalette(),
		PaletteDigest:   s.world.PaletteDigest(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	return sessionID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
