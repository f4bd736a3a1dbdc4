// Package server exposes decoded signals to live plotting clients over
// websocket. It is an optional session sink: each decoded packet is
// broadcast as one JSON message to every connected client.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Mere226/biogui/internal/session"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamFrame is the JSON wire format for one decoded signal of one
// packet.
type StreamFrame struct {
	Seq      uint64      `json:"seq"`
	Signal   string      `json:"signal"`
	Samples  int         `json:"samples"`
	Channels int         `json:"channels"`
	Data     [][]float64 `json:"data"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Server broadcasts decoded packets to websocket clients on /stream.
type Server struct {
	addr    string
	log     zerolog.Logger
	httpSrv *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a streaming server listening on addr once Start is called.
func New(addr string, log zerolog.Logger) *Server {
	s := &Server{
		addr:    addr,
		log:     log.With().Str("component", "stream-server").Logger(),
		clients: make(map[*client]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the HTTP listener on its own goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("streaming server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("streaming server failed")
		}
	}()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", n).Msg("client connected")

	// Drain (and discard) client messages so pings are answered and a
	// dropped connection is noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(c)
				return
			}
		}
	}()
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if present {
		c.conn.Close()
		s.log.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("client disconnected")
	}
}

// Consume implements session.Sink: one JSON message per signal per packet.
func (s *Server) Consume(p session.DataPacket) error {
	s.mu.Lock()
	if len(s.clients) == 0 {
		s.mu.Unlock()
		return nil
	}
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for name, signal := range p.Signals {
		rows, cols := signal.Dims()
		frame := StreamFrame{
			Seq:      p.Seq,
			Signal:   name,
			Samples:  rows,
			Channels: cols,
			Data:     make([][]float64, rows),
		}
		for i := 0; i < rows; i++ {
			row := make([]float64, cols)
			for j := 0; j < cols; j++ {
				row[j] = signal.At(i, j)
			}
			frame.Data[i] = row
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		for _, c := range targets {
			if err := c.send(payload); err != nil {
				s.drop(c)
			}
		}
	}
	return nil
}

// Close disconnects all clients and shuts the listener down.
func (s *Server) Close() error {
	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
