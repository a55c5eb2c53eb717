package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openfroyo/flysim/pkg/session"
	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

// Dispatcher is the part of a session the server drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, in sim.Intent) (session.Outcome, error)
	Subscribe() (<-chan sim.State, func())
}

// Options configures a Server.
type Options struct {
	Logger *telemetry.Logger

	// Events, when set, are forwarded to every client as event frames.
	Events *telemetry.EventPublisher

	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool

	// QueueSize bounds the per-client queue of outcome and event frames.
	// Frames beyond it are dropped; snapshots are never queued.
	QueueSize int

	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Server exposes a session over websocket. Every client receives a
// snapshot frame on each state change and may send intent frames, which
// are dispatched in arrival order and answered with an outcome frame.
type Server struct {
	session Dispatcher
	log     *telemetry.Logger
	schema  *jsonschema.Schema
	opts    Options

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	out chan []byte
}

// NewServer builds a server for sess.
func NewServer(sess Dispatcher, opts Options) (*Server, error) {
	schema, err := compileInboundSchema()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NopLogger()
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	s := &Server{
		session: sess,
		log:     opts.Logger.NewComponentLogger("ws"),
		schema:  schema,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    16 * 1024,
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin:       opts.CheckOrigin,
		},
		clients: make(map[*client]struct{}),
	}
	if opts.Events != nil {
		opts.Events.Subscribe(s.broadcastEvent, nil)
	}
	return s, nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Handler upgrades the request and serves the connection until either side
// closes it.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.WithError(err).Debug("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &client{out: make(chan []byte, s.opts.QueueSize)}
		s.register(c)
		defer s.unregister(c)

		snapshots, unsubscribe := s.session.Subscribe()
		defer unsubscribe()

		log := s.log.WithField("remote", r.RemoteAddr)
		log.Info("client connected")

		readDeadline := 2 * s.opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readDeadline))
		})

		go s.writeLoop(ctx, cancel, conn, c, snapshots)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

			f, err := decodeFrame(s.schema, msg)
			if err != nil {
				log.WithError(err).Debug("ignoring malformed frame")
				continue
			}
			switch f.Type {
			case TypePing:
				s.enqueue(c, PongFrame{Type: TypePong, ID: f.ID})
			case TypeIntent:
				s.enqueue(c, s.dispatch(ctx, f))
			}
		}

		log.Info("client disconnected")
	}
}

func (s *Server) dispatch(ctx context.Context, f InboundFrame) OutcomeFrame {
	frame := OutcomeFrame{Type: TypeOutcome, ID: f.ID, Intent: f.Intent.Kind}
	out, err := s.session.Dispatch(ctx, *f.Intent)
	if err != nil {
		frame.Error = err.Error()
		return frame
	}
	frame.Changed = out.Changed
	frame.Denied = out.Denied
	frame.Violations = out.Violations
	return frame
}

// writeLoop is the only goroutine writing to conn.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client, snapshots <-chan sim.State) {
	defer cancel()

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case st := <-snapshots:
			err = s.writeJSON(conn, SnapshotFrame{Type: TypeSnapshot, State: st})
		case b := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			err = conn.WriteMessage(websocket.TextMessage, b)
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout))
		}
		if err != nil {
			s.log.WithError(err).Debug("websocket write failed")
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// enqueue drops the frame when the client is not keeping up.
func (s *Server) enqueue(c *client, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("failed to encode frame")
		return
	}
	select {
	case c.out <- b:
	default:
		s.log.Warn("client queue full, frame dropped")
	}
}

func (s *Server) broadcastEvent(e telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.enqueue(c, EventFrame{Type: TypeEvent, Event: e})
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
