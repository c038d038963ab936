package ws

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/coop-session-server/internal/hub"
	"github.com/DoyleJ11/coop-session-server/internal/lobby"
	"github.com/DoyleJ11/coop-session-server/internal/protocol"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	readLimit    = 64 << 10
)

type Options struct {
	// Outbox is the per-client frame buffer; a client that falls this far
	// behind is dropped by its session.
	Outbox int
	Rate   rate.Limit
	Burst  int
	Log    *zap.Logger
}

// lastClientID hands out process-wide client IDs. 0 is the server.
var lastClientID atomic.Uint64

func nextClientID() types.ClientID { return types.ClientID(lastClientID.Add(1)) }

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Outbox < 1 {
		opts.Outbox = 64
	}
	if opts.Rate <= 0 {
		opts.Rate = rate.Inf
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		reply := make(chan *lobby.Lobby, 1)
		lb, _ := hub.Ask(h, hub.GetSession{Code: code, Reply: reply}, reply)
		if lb == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{protocol.SubprotocolMsgpack, protocol.SubprotocolJSON},
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(readLimit)

		codec := protocol.ForSubprotocol(conn.Subprotocol())
		clientID := nextClientID()
		log := opts.Log.With(
			zap.String("session", code),
			zap.Uint64("client_id", uint64(clientID)),
			zap.String("codec", codec.Name()))

		out := make(chan protocol.Frame, opts.Outbox)
		if !post(lb, lobby.Join{ClientID: clientID, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		}
		defer post(lb, lobby.Leave{ClientID: clientID})
		log.Debug("connected")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for f := range out {
				if err := write(writeCtx, conn, codec, f); err != nil {
					log.Debug("write failed", zap.Error(err))
					break
				}
			}
			// The session closed the outbox: it dropped us or shut down.
			conn.Close(websocket.StatusGoingAway, "session closed")
		}()

		limiter := rate.NewLimiter(opts.Rate, opts.Burst)

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("disconnected")
				default:
					log.Debug("read failed", zap.Error(err))
				}
				// Either way exit (lobby.Leave in defer):
				return
			}

			if !limiter.Allow() {
				_ = write(r.Context(), conn, codec, protocol.ErrorFrame(protocol.CodeRateLimited, errors.New("slow down")))
				continue
			}

			f, err := protocol.DecodeClient(codec, data)
			if err != nil {
				log.Debug("bad frame", zap.Error(err))
				_ = write(r.Context(), conn, codec, protocol.ErrorFrame(protocol.CodeBadFrame, err))
				continue
			}

			if !post(lb, lobby.FromClient{ClientID: clientID, Frame: f}) {
				return
			}
		}
	}
}

// post delivers m unless the session has already stopped.
func post(lb *lobby.Lobby, m lobby.Msg) bool {
	select {
	case lb.Inbox() <- m:
		return true
	case <-lb.Done():
		return false
	}
}

func write(ctx context.Context, conn *websocket.Conn, codec protocol.Codec, f protocol.Frame) error {
	b, err := codec.Encode(f)
	if err != nil {
		return err
	}
	typ := websocket.MessageText
	if codec.Binary() {
		typ = websocket.MessageBinary
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, typ, b)
}
