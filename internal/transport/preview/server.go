// Package preview serves a built app directory over HTTP and tells connected
// browsers when it has been rebuilt.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"muwanx.dev/internal/protocol"
)

// Server serves root as static files and /ws as the build feed.
type Server struct {
	root string
	log  *slog.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[string]chan []byte
	buildID string
	config  json.RawMessage
}

func NewServer(root string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		root: root,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[string]chan []byte{},
	}
	if b, err := s.readConfig(); err == nil {
		s.config = b
	}
	return s
}

// Handler routes /ws to the build feed and everything else to the files.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.WSHandler())
	mux.Handle("/", noCache(http.FileServer(http.Dir(s.root))))
	return mux
}

func noCache(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Cache-Control", "no-store")
		h.ServeHTTP(rw, r)
	})
}

func (s *Server) WSHandler() http.HandlerFunc {
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
		defer s.leave(sid)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
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

		// Clients have nothing to say after HELLO; reading keeps control
		// frames flowing and notices the close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return "", nil
	}

	sid := fmt.Sprintf("P%d", s.nextID.Add(1))
	out := make(chan []byte, 8)

	// Register before WELCOME so no build between the two is lost; the
	// writer goroutine starts only after WELCOME is on the wire.
	s.mu.Lock()
	s.clients[sid] = out
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sid,
		BuildID:         s.buildID,
		Config:          s.config,
	}
	s.mu.Unlock()

	if err := writeJSON(conn, welcome); err != nil {
		s.leave(sid)
		return "", nil
	}
	s.log.Debug("preview client joined", "session", sid, "client", hello.ClientName)
	return sid, out
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	delete(s.clients, sid)
	s.mu.Unlock()
}

// Notify records the outcome of a rebuild and broadcasts it. On success the
// freshly written config.json is reloaded and sent along.
func (s *Server) Notify(buildID string, buildErr error) {
	msg := protocol.BuildMsg{
		Type:            protocol.TypeBuild,
		ProtocolVersion: protocol.Version,
		BuildID:         buildID,
		OK:              buildErr == nil,
	}
	if buildErr != nil {
		msg.Error = buildErr.Error()
	} else if cfg, err := s.readConfig(); err != nil {
		msg.OK = false
		msg.Error = err.Error()
	} else {
		msg.Config = cfg
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode build message", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.OK {
		s.buildID = buildID
		s.config = msg.Config
	}
	for sid, out := range s.clients {
		select {
		case out <- b:
		default:
			s.log.Warn("preview client queue full, dropping build message", "session", sid)
		}
	}
}

// Clients is the number of connected browsers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) readConfig() (json.RawMessage, error) {
	b, err := os.ReadFile(filepath.Join(s.root, "assets", "config.json"))
	if err != nil {
		return nil, err
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("config.json is not valid JSON")
	}
	return json.RawMessage(b), nil
}

func reject(conn *websocket.Conn, code, text string) {
	_ = writeJSON(conn, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         text,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
