// Package transport exposes the WebSocket listener subscribers
// connect to, plus the ambient /healthz and /metrics endpoints, using
// ws.UpgradeHTTP and wsutil.ReadClientData/WriteServerMessage. Each
// accepted connection is handed straight to a session.Session rather
// than running its own read/write pump goroutines here.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"bitfeed/internal/logging"
	"bitfeed/internal/metrics"
	"bitfeed/internal/session"
	"bitfeed/internal/sysstats"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// readWriteDeadline bounds how long a read or write may block before
// the connection is considered dead. It is re-armed before every
// operation; because the read deadline is re-armed only when a data
// message arrives, it also acts as an idle timeout: a client that sends
// no text or binary message for this long is disconnected. The server
// sends no pings of its own.
const readWriteDeadline = 60 * time.Second

// wsConn adapts a gobwas/ws net.Conn into the session.Conn interface:
// binary frames out, text frames in (catch-up requests are JSON text
// messages).
type wsConn struct {
	raw net.Conn
}

func (c *wsConn) WriteMessage(payload []byte) error {
	c.raw.SetWriteDeadline(time.Now().Add(readWriteDeadline))
	return wsutil.WriteServerMessage(c.raw, ws.OpBinary, payload)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		c.raw.SetReadDeadline(time.Now().Add(readWriteDeadline))
		msg, op, err := wsutil.ReadClientData(c.raw)
		if err != nil {
			return nil, err
		}
		switch op {
		case ws.OpText:
			return msg, nil
		case ws.OpClose:
			return nil, errors.New("transport: client sent close frame")
		case ws.OpPing, ws.OpPong, ws.OpBinary:
			continue // gobwas answers pings automatically; ignore unexpected binary from client
		default:
			continue
		}
	}
}

func (c *wsConn) Close() error {
	return c.raw.Close()
}

// Sessioner runs one accepted connection to completion. session.Session
// satisfies this.
type Sessioner interface {
	Run(conn session.Conn) error
}

// Server owns the HTTP listener that upgrades /ws connections and
// exposes /healthz and /metrics.
type Server struct {
	addr            string
	wsPath          string
	sessions        Sessioner
	metrics         *metrics.Registry
	sampler         *sysstats.Sampler
	log             zerolog.Logger
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New builds a Server that upgrades incoming connections on wsPath and
// hands each one to sessions.Run. shutdownTimeout bounds how long an
// in-flight graceful shutdown waits for connections to drain.
func New(addr, wsPath string, sessions Sessioner, reg *metrics.Registry, sampler *sysstats.Sampler, shutdownTimeout time.Duration, log zerolog.Logger) *Server {
	s := &Server{
		addr:            addr,
		wsPath:          wsPath,
		sessions:        sessions,
		metrics:         reg,
		sampler:         sampler,
		shutdownTimeout: shutdownTimeout,
		log:             log.With().Str("component", "transport").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if reg != nil {
		mux.Handle("/metrics", reg.Handler())
	}

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks until the listener stops or ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		timeout := s.shutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := &wsConn{raw: raw}
	defer conn.Close()
	defer func() {
		if rec := recover(); rec != nil {
			logging.LogPanic(s.log, rec)
		}
	}()

	if err := s.sessions.Run(conn); err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("session ended")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if s.sampler == nil {
		w.Write([]byte(`{"status":"ok"}`))
		return
	}

	snap := s.sampler.Sample(100 * time.Millisecond)
	fmt.Fprintf(w, `{"status":"ok","cpu_percent":%.2f,"heap_alloc_mb":%.2f,"goroutines":%d,"uptime_seconds":%.0f}`,
		snap.CPUPercent, snap.HeapAllocMB, snap.Goroutines, snap.Uptime.Seconds())
}
