// Package clearnodetest provides an in-process fake ClearNode for tests.
package clearnodetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// Frame is one request received by the fake node.
type Frame struct {
	ID        uint64
	Method    rpc.Method
	Params    json.RawMessage
	Timestamp int64
	Sig       []string
	Token     string
	// Req is the raw req array, i.e. the bytes a session key signs.
	Req json.RawMessage
}

// Reply is the response the node writes for a Frame.
type Reply struct {
	Method  rpc.Method
	Payload any
}

// HandlerFunc answers a Frame. Returning false sends nothing.
type HandlerFunc func(f Frame) (Reply, bool)

// Server is a websocket ClearNode stand-in backed by httptest.
type Server struct {
	srv *httptest.Server
	// URL is the ws:// address of the node.
	URL string

	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[rpc.Method]HandlerFunc
	frames   []Frame
	conns    map[*peer]struct{}
	accepted int
	refuse   bool
	wg       sync.WaitGroup
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer starts a fake node. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		handlers: make(map[rpc.Method]HandlerFunc),
		conns:    make(map[*peer]struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = "ws" + strings.TrimPrefix(s.srv.URL, "http")
	return s
}

// Handle sets the handler for method, replacing any previous one.
func (s *Server) Handle(method rpc.Method, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()
}

// Refuse makes subsequent handshakes fail with 503 while on is true.
func (s *Server) Refuse(on bool) {
	s.mu.Lock()
	s.refuse = on
	s.mu.Unlock()
}

// Accepted returns how many websocket connections were accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Frames returns the received frames of method, or all frames when method is empty.
func (s *Server) Frames(method rpc.Method) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Frame
	for _, f := range s.frames {
		if method == "" || f.Method == method {
			out = append(out, f)
		}
	}
	return out
}

// Push writes an unsolicited message to every open connection.
func (s *Server) Push(method rpc.Method, payload any) error {
	data, err := encodeRes(0, method, payload)
	if err != nil {
		return err
	}
	for _, p := range s.peers() {
		if err := p.write(data); err != nil {
			return err
		}
	}
	return nil
}

// Send writes a raw frame to every open connection.
func (s *Server) Send(data []byte) {
	for _, p := range s.peers() {
		_ = p.write(data)
	}
}

// Drop closes every connection without a close frame, which the client
// sees as an abnormal closure.
func (s *Server) Drop() {
	for _, p := range s.peers() {
		_ = p.conn.NetConn().Close()
	}
}

// CloseNormal closes every connection with close code 1000.
func (s *Server) CloseNormal() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	for _, p := range s.peers() {
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

// Close drops all connections and stops the server.
func (s *Server) Close() {
	s.Refuse(true)
	s.Drop()
	s.wg.Wait()
	s.srv.Close()
}

func (s *Server) peers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}

	s.mu.Lock()
	s.conns[p] = struct{}{}
	s.accepted++
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, p)
		s.mu.Unlock()
		_ = conn.Close()
		s.wg.Done()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := decodeReq(data)
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.frames = append(s.frames, f)
		h := s.handlers[f.Method]
		s.mu.Unlock()

		if h == nil {
			continue
		}
		reply, ok := h(f)
		if !ok {
			continue
		}
		out, err := encodeRes(f.ID, reply.Method, reply.Payload)
		if err != nil {
			continue
		}
		_ = p.write(out)
	}
}

func decodeReq(data []byte) (Frame, error) {
	var env struct {
		Req   json.RawMessage `json:"req"`
		Sig   []string        `json:"sig"`
		Token string          `json:"token"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, err
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(env.Req, &parts); err != nil {
		return Frame{}, err
	}
	if len(parts) != 4 {
		return Frame{}, fmt.Errorf("req has %d elements", len(parts))
	}

	f := Frame{Params: parts[2], Sig: env.Sig, Token: env.Token, Req: env.Req}
	var method string
	if err := json.Unmarshal(parts[0], &f.ID); err != nil {
		return Frame{}, err
	}
	if err := json.Unmarshal(parts[1], &method); err != nil {
		return Frame{}, err
	}
	if err := json.Unmarshal(parts[3], &f.Timestamp); err != nil {
		return Frame{}, err
	}
	f.Method = rpc.Method(method)
	return f, nil
}

func encodeRes(id uint64, method rpc.Method, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"res": []any{id, method, payload, time.Now().UnixMilli()},
		"sig": []string{},
	})
}
