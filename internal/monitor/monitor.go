// Package monitor streams the progress of solver runs to WebSocket
// clients.
//
// A Hub is a jacobi.Reporter and an http.Handler. Every report becomes a
// JSON frame broadcast to all connected clients:
//
//	{"type":"progress","run":"<uuid>","iter":100,"norm":0.0123}
//
// Progress frames are dropped, never queued without bound, when clients
// cannot keep up, so a slow browser never stalls the solver.
package monitor

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/jacobi"
)

// Frame types.
const (
	TypeHello    = "hello"
	TypeStart    = "start"
	TypeProgress = "progress"
	TypeFinish   = "finish"
)

// Frame is one message sent to clients.
type Frame struct {
	Type string `json:"type"`
	Run  string `json:"run,omitempty"`

	// Progress.
	Iter int      `json:"iter"`
	Norm *float64 `json:"norm"`

	// Start.
	NX      int    `json:"nx,omitempty"`
	NY      int    `json:"ny,omitempty"`
	IterMax int    `json:"iter_max,omitempty"`
	Device  string `json:"device,omitempty"`

	// Finish.
	Converged bool    `json:"converged,omitempty"`
	Elapsed   float64 `json:"elapsed,omitempty"`
}

// finite returns a pointer to v, or nil when v does not encode as JSON.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

const (
	// DefaultBuffer is the number of frames queued for broadcast.
	DefaultBuffer = 256

	writeTimeout = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, any page may watch
	},
}

// Hub fans solver reports out to WebSocket clients.
type Hub struct {
	frames chan Frame
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex

	// run is the ID of the current run, sent in the hello frame.
	run atomic.Value // string

	dropped atomic.Uint64
}

// NewHub starts a hub with room for buffer queued frames. buffer <= 0
// uses DefaultBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	h := &Hub{
		frames:  make(chan Frame, buffer),
		done:    make(chan struct{}),
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
	h.run.Store("")
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// ServeHTTP upgrades the request to a WebSocket and keeps the client
// registered until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		jacobi.Logger().Warn("monitor: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	connMu := &sync.Mutex{}
	h.clientsMu.Lock()
	h.clients[conn] = connMu
	h.clientsMu.Unlock()
	defer h.remove(conn)
	jacobi.Logger().Debug("monitor: client connected", "remote", r.RemoteAddr)

	connMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteJSON(Frame{Type: TypeHello, Run: h.run.Load().(string)})
	connMu.Unlock()
	if err != nil {
		return
	}

	// Clients send nothing; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.clientsMu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of progress frames discarded because the
// queue was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Start implements jacobi.Reporter.
func (h *Hub) Start(info jacobi.RunInfo) {
	run := info.RunID.String()
	h.run.Store(run)
	h.send(Frame{
		Type:    TypeStart,
		Run:     run,
		NX:      info.NX,
		NY:      info.NY,
		IterMax: info.IterMax,
		Device:  info.Device.Name,
	})
}

// Progress implements jacobi.Reporter. It never blocks.
func (h *Hub) Progress(iter int, norm float64) {
	f := Frame{Type: TypeProgress, Run: h.run.Load().(string), Iter: iter, Norm: finite(norm)}
	select {
	case h.frames <- f:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// Finish implements jacobi.Reporter.
func (h *Hub) Finish(res *jacobi.Result) {
	h.send(Frame{
		Type:      TypeFinish,
		Run:       res.RunID.String(),
		Iter:      res.Iterations,
		Norm:      finite(res.Norm),
		Converged: res.Converged,
		Elapsed:   res.Elapsed.Seconds(),
	})
}

// send queues f, waiting for room unless the hub is closed.
func (h *Hub) send(f Frame) {
	select {
	case h.frames <- f:
	case <-h.done:
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case f := <-h.frames:
			h.broadcast(f)
		case <-h.done:
			// Flush what is queued.
			for {
				select {
				case f := <-h.frames:
					h.broadcast(f)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) broadcast(f Frame) {
	h.clientsMu.RLock()
	var failed []*websocket.Conn
	for conn, mu := range h.clients {
		mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteJSON(f)
		mu.Unlock()
		if err != nil {
			failed = append(failed, conn)
		}
	}
	h.clientsMu.RUnlock()

	for _, conn := range failed {
		jacobi.Logger().Debug("monitor: dropping client", "remote", conn.RemoteAddr().String())
		h.remove(conn)
		conn.Close()
	}
}

// Close stops broadcasting after flushing queued frames and disconnects
// every client. Close is safe to call multiple times.
func (h *Hub) Close() error {
	h.closed.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.clientsMu.Lock()
		for conn, mu := range h.clients {
			mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			mu.Unlock()
			conn.Close()
		}
		clear(h.clients)
		h.clientsMu.Unlock()
	})
	return nil
}

// Server serves a Hub on /ws.
type Server struct {
	Hub *Hub

	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and returns a server ready to Serve. Use ":0" for an
// ephemeral port.
func Listen(addr string, hub *Hub) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	return &Server{
		Hub: hub,
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is done, then shuts the server
// down.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(s.ln) }()
	jacobi.Logger().Info("monitor: serving", "addr", s.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(shutCtx)
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}
