package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"multiblock.ai/internal/sim/world"
)

type Options struct {
	// AllowRemote serves non-loopback clients.
	AllowRemote bool
	// QueueSize is the per-session outbound buffer.
	QueueSize int
	// RequestTimeout bounds round-trips to the world loop.
	RequestTimeout time.Duration
}

// Server exposes read-only structure state over HTTP and a websocket stream.
type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	if opts.QueueSize <= 0 {
		opts.QueueSize = w.Config().ObserverQueue
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	return &Server{
		world: w,
		log:   logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts the observer routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/structures", s.StructuresHandler())
	mux.HandleFunc("/v1/describe", s.DescribeHandler())
	mux.HandleFunc("/v1/observe", s.WSHandler())
}

func (s *Server) StructuresHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		tick, views, err := s.world.RequestStructures(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.world.Bootstrap(tick, views))
	}
}

func (s *Server) DescribeHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		pos, err := parsePos(r)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		text, found, err := s.world.RequestDescribe(ctx, pos)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if !found {
			http.Error(rw, "no structure at position", http.StatusNotFound)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = rw.Write([]byte(text + "\n"))
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid := uuid.NewString()
		out := make(chan []byte, s.opts.QueueSize)

		joinCtx, cancelJoin := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		select {
		case s.world.ObserverJoin() <- world.ObserverJoinRequest{SessionID: sid, Out: out}:
		case <-joinCtx.Done():
			cancelJoin()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		cancelJoin()
		s.printf("observer join session=%s remote=%s", sid, r.RemoteAddr)
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			case <-time.After(s.opts.RequestTimeout):
			}
			s.printf("observer leave session=%s", sid)
		}()

		// Writer goroutine; the world closes out when the session ends.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for b := range out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					_ = conn.Close()
					return
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "world stopped"), time.Now().Add(time.Second))
			_ = conn.Close()
		}()

		// Observers are read-only; reads only detect disconnects.
		conn.SetReadLimit(4 * 1024)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parsePos(r *http.Request) (world.Vec3i, error) {
	q := r.URL.Query()
	var v [3]int
	for i, k := range [3]string{"x", "y", "z"} {
		n, err := strconv.Atoi(strings.TrimSpace(q.Get(k)))
		if err != nil {
			return world.Vec3i{}, &paramError{name: k}
		}
		v[i] = n
	}
	return world.Vec3i{X: v[0], Y: v[1], Z: v[2]}, nil
}

type paramError struct{ name string }

func (e *paramError) Error() string { return "missing or invalid query parameter " + e.name }

func (s *Server) allowed(r *http.Request) bool {
	return s.opts.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
