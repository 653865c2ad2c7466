package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins on the local network
	},
}

// wsConn is a websocket subscriber. Its read loop handles control frames
// and marks the conn dead when the peer goes away.
type wsConn struct {
	ws        *websocket.Conn
	dead      atomic.Bool
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws}
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("publisher: websocket read error: %v", err)
			}
			c.dead.Store(true)
			return
		}
	}
}

func (c *wsConn) Send(line []byte, timeout time.Duration) error {
	if c.dead.Load() {
		return fmt.Errorf("send to %s: %w", c, errPeerGone)
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	// one JSON object per message, without the line terminator
	if err := c.ws.WriteMessage(websocket.TextMessage, line[:len(line)-1]); err != nil {
		return fmt.Errorf("send to %s: %w", c, err)
	}
	return nil
}

func (c *wsConn) Alive() bool { return !c.dead.Load() }

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.ws.Close() })
	return err
}

func (c *wsConn) String() string {
	return "ws " + c.ws.RemoteAddr().String()
}

// Handler serves /ws (stream subscription) and /api/fix (latest record).
func (p *Publisher) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("publisher: websocket upgrade error: %v", err)
			return
		}
		p.conns.Add(newWSConn(ws))
		log.Printf("publisher: websocket client %s connected (%d clients)", ws.RemoteAddr(), p.conns.Len())
	})

	mux.HandleFunc("/api/fix", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := p.Last()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rec); err != nil {
			log.Printf("publisher: json encode error: %v", err)
		}
	})

	return mux
}

// RunWeb serves Handler on addr until ctx is cancelled.
func (p *Publisher) RunWeb(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("publisher: web server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		log.Println("publisher: web server stopped")
		return nil
	}
}
