// Package relay exposes session events and the logbook over HTTP and WebSocket.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/pm5link/internal/logbook"
	"github.com/srg/pm5link/internal/pm5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Source is the event surface the relay forwards. *pm5.Session implements it.
type Source interface {
	Subscribe(ctx context.Context, t pm5.EventType, listener pm5.Listener) (pm5.Subscription, error)
	Unsubscribe(sub pm5.Subscription) bool
}

// Frame is one event as sent to WebSocket clients.
type Frame struct {
	Seq  uint64        `json:"seq"`
	Type pm5.EventType `json:"type"`
	Data any           `json:"data"`
}

type Options struct {
	Listen string
	// ClientBuffer is the per-client frame queue; frames for a full queue are dropped.
	ClientBuffer int
	WriteTimeout time.Duration
}

type client struct {
	id      string
	send    chan Frame
	dropped atomic.Int64
}

// Server relays hub events to WebSocket clients on /events and serves
// stored workouts on /logbook.
type Server struct {
	source Source
	store  logbook.Store
	logger *logrus.Logger
	opts   Options

	clients *hashmap.Map[string, *client]

	mu   sync.Mutex // orders seq assignment with enqueueing
	seq  uint64
	subs []pm5.Subscription

	httpSrv   *http.Server
	boundAddr atomic.Value
}

// New creates a relay. store may be nil, in which case /logbook answers 503.
func New(source Source, store logbook.Store, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Server{
		source:  source,
		store:   store,
		logger:  logger,
		opts:    opts,
		clients: hashmap.New[string, *client](),
	}
}

// Attach subscribes the relay to every event type of its source.
func (s *Server) Attach(ctx context.Context) error {
	for _, t := range pm5.EventTypes {
		sub, err := s.source.Subscribe(ctx, t, s.broadcast)
		if err != nil {
			s.Detach()
			return fmt.Errorf("relay subscribe %s: %w", t, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	return nil
}

// Detach removes the relay's listeners from its source.
func (s *Server) Detach() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.source.Unsubscribe(sub)
	}
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/logbook", s.handleLogbook)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start attaches to the source and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Attach(ctx); err != nil {
		return err
	}
	defer s.Detach()

	listener, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.logger.WithField("addr", listener.Addr().String()).Info("Relay started")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay serve: %w", err)
	}
	return nil
}

// BoundAddr returns the address the server listens on. Only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	return s.clients.Len()
}

// NewFrame wraps e with its payload: the status, the summary, or the peer address.
func NewFrame(seq uint64, e pm5.Event) Frame {
	return Frame{Seq: seq, Type: e.Type(), Data: frameData(e)}
}

func frameData(e pm5.Event) any {
	switch ev := e.(type) {
	case pm5.LiveStatusEvent:
		return ev.Status
	case pm5.WorkoutSummaryEvent:
		return ev.Summary
	case pm5.DisconnectEvent:
		return map[string]string{"address": ev.Address}
	default:
		return nil
	}
}

func (s *Server) broadcast(e pm5.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	frame := NewFrame(s.seq, e)

	s.clients.Range(func(id string, c *client) bool {
		select {
		case c.send <- frame:
		default:
			if c.dropped.Add(1) == 1 {
				s.logger.WithField("client", id).Warn("Relay client too slow, dropping frames")
			}
		}
		return true
	})
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket accept failed")
		return
	}

	c := &client{id: ulid.Make().String(), send: make(chan Frame, s.opts.ClientBuffer)}
	s.clients.Set(c.id, c)
	log := s.logger.WithField("client", c.id)
	log.Info("Relay client connected")

	defer func() {
		s.clients.Del(c.id)
		_ = ws.Close(websocket.StatusNormalClosure, "")
		log.WithField("dropped", c.dropped.Load()).Info("Relay client disconnected")
	}()

	// Clients only listen; CloseRead handles control frames and cancels ctx on close.
	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := wsjson.Write(wctx, ws, frame)
			cancel()
			if err != nil {
				log.WithError(err).Debug("Relay write failed")
				return
			}
		}
	}
}

func (s *Server) handleLogbook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "logbook disabled", http.StatusServiceUnavailable)
		return
	}
	entries, err := s.store.LoadAll(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to load logbook")
		http.Error(w, "failed to load logbook", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "clients": s.ClientCount()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
