package hub

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/lobby"
	"github.com/DoyleJ11/coop-session-server/internal/store"
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Code  string
	Reply chan *lobby.Lobby
}

type GetSession struct {
	Code  string
	Reply chan *lobby.Lobby
}

// EnsureSession returns the session under Code, creating it when missing.
type EnsureSession struct {
	Code  string
	Reply chan *lobby.Lobby
}

// RemoveSession forgets the session, but only if Lobby is still the one
// registered under Code.
type RemoveSession struct {
	Code  string
	Lobby *lobby.Lobby
}

type ListSessions struct {
	Reply chan []string
}

// ShutdownHub stops every session and waits for them to finish. Done, when
// set, is closed afterwards.
type ShutdownHub struct {
	Done chan struct{}
}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ListSessions) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*lobby.Lobby
	base     lobby.Config
	cat      catalog.Catalog
	store    store.Store
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHub starts the hub. base is the template every session is created from;
// its Code and OnEmpty are set per session.
func NewHub(parent context.Context, base lobby.Config, cat catalog.Catalog, st store.Store, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*lobby.Lobby),
		base:     base,
		cat:      cat,
		store:    st,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has stopped taking messages.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Post delivers m unless the hub has stopped.
func (h *Hub) Post(m HubMsg) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.done:
		return false
	}
}

// Ask posts m and waits for its answer on reply. ok is false when the hub
// stopped before answering.
func Ask[T any](h *Hub, m HubMsg, reply <-chan T) (v T, ok bool) {
	if !h.Post(m) {
		return v, false
	}
	select {
	case v = <-reply:
		return v, true
	case <-h.done:
		select {
		case v = <-reply:
			return v, true
		default:
			return v, false
		}
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				msg.Reply <- h.ensure(msg.Code)

			case GetSession:
				msg.Reply <- h.sessions[msg.Code] // May be nil

			case EnsureSession:
				msg.Reply <- h.ensure(msg.Code)

			case RemoveSession:
				if lb := h.sessions[msg.Code]; lb != nil && (msg.Lobby == nil || msg.Lobby == lb) {
					delete(h.sessions, msg.Code)
					h.log.Info("session removed", zap.String("session", msg.Code))
				}

			case ListSessions:
				codes := make([]string, 0, len(h.sessions))
				for code := range h.sessions {
					codes = append(codes, code)
				}
				sort.Strings(codes)
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				if msg.Done != nil {
					close(msg.Done)
				}
				return
			}
		}
	}
}

func (h *Hub) ensure(code string) *lobby.Lobby {
	if lb := h.sessions[code]; lb != nil {
		return lb
	}
	cfg := h.base
	cfg.Code = code
	var lb *lobby.Lobby
	cfg.OnEmpty = func(code string) {
		h.Post(RemoveSession{Code: code, Lobby: lb})
	}
	lb = lobby.NewLobby(h.ctx, cfg, h.cat, h.store, h.log)
	h.sessions[code] = lb
	h.log.Info("session created", zap.String("session", code))
	return lb
}

func (h *Hub) shutdown() {
	for _, lb := range h.sessions {
		select {
		case lb.Inbox() <- lobby.Shutdown{}:
		case <-lb.Done():
		}
	}
	for _, lb := range h.sessions {
		<-lb.Done()
	}
	clear(h.sessions)
	h.cancel()
}
