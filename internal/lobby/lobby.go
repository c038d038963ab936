package lobby

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/protocol"
	"github.com/DoyleJ11/coop-session-server/internal/relay"
	"github.com/DoyleJ11/coop-session-server/internal/roster"
	"github.com/DoyleJ11/coop-session-server/internal/session"
	"github.com/DoyleJ11/coop-session-server/internal/store"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

type Msg interface{ isLobbyMsg() }

// FromClient carries one decoded frame from a connected client.
type FromClient struct {
	ClientID types.ClientID
	Frame    protocol.Frame
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ClientID types.ClientID
	Outbox   chan protocol.Frame // where this client wants to receive frames
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID types.ClientID }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type loadTimedOut struct{ gen int }

func (loadTimedOut) isLobbyMsg() {}

type buildsFetched struct{ builds map[string]store.Build }

func (buildsFetched) isLobbyMsg() {}

// View is a race-free copy of the lobby state, for tests and the HTTP API.
type View struct {
	Code          string
	Phase         session.State
	Host          types.ClientID
	NumClients    int
	RosterVersion int
	Roster        []roster.Entry
	Entities      []types.NetworkID
}

type Config struct {
	Code            string
	Scene           string
	Layout          session.Layout
	FallbackToFirst bool
	// LoadTimeout bounds the load barrier; participants that have not
	// reported by then are spawned anyway.
	LoadTimeout  time.Duration
	StoreTimeout time.Duration
	// OnEmpty runs after the last client leaves and the lobby shut down.
	OnEmpty func(code string)
}

type Lobby struct {
	inbox chan Msg
	cfg   Config
	cat   catalog.Catalog
	store store.Store
	log   *zap.Logger

	clients map[types.ClientID]chan protocol.Frame
	order   []types.ClientID
	slow    map[types.ClientID]struct{}
	host    types.ClientID
	joined  bool

	roster  *roster.Roster
	version int
	seq     *session.Sequencer
	world   *world

	loadGen       int
	loadTimer     *time.Timer
	barrierPassed bool
	builds        map[string]store.Build
	buildsReady   bool

	bg     errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, cfg Config, cat catalog.Catalog, st store.Store, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	log = log.With(zap.String("session", cfg.Code))

	l := &Lobby{
		inbox:   make(chan Msg, 64), // Small buffer
		cfg:     cfg,
		cat:     cat,
		store:   st,
		log:     log,
		clients: make(map[types.ClientID]chan protocol.Frame),
		slow:    make(map[types.ClientID]struct{}),
		roster:  roster.New(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.world = newWorld(l)
	l.seq = session.NewSequencer(session.Config{
		Scene:           cfg.Scene,
		Layout:          cfg.Layout,
		FallbackToFirst: cfg.FallbackToFirst,
	}, cat.Characters, announcer{l}, l.world, log)

	go l.loop()
	return l
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.done }

func (l *Lobby) Code() string { return l.cfg.Code }

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.join(msg.ClientID, msg.Outbox)

			case Leave:
				l.leave(msg.ClientID)

			case FromClient:
				if _, ok := l.clients[msg.ClientID]; ok {
					l.handle(msg.ClientID, msg.Frame)
				}

			case loadTimedOut:
				if msg.gen == l.loadGen && l.seq.State() == session.StateWorldLoading && !l.barrierPassed {
					l.log.Warn("load barrier timed out",
						zap.Duration("timeout", l.cfg.LoadTimeout),
						zap.Int("loaded", len(l.seq.Loaded())),
						zap.Int("participants", l.seq.Snapshot().Len()))
					l.barrierPassed = true
					l.trySpawn()
				}

			case buildsFetched:
				l.builds = msg.builds
				l.buildsReady = true
				l.trySpawn()

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}
			l.reapSlow()
			if l.joined && len(l.clients) == 0 {
				l.shutdown()
				if l.cfg.OnEmpty != nil {
					go l.cfg.OnEmpty(l.cfg.Code)
				}
				return
			}
		}
	}
}

func (l *Lobby) view() View {
	return View{
		Code:          l.cfg.Code,
		Phase:         l.seq.State(),
		Host:          l.host,
		NumClients:    len(l.clients),
		RosterVersion: l.version,
		Roster:        l.roster.Entries(),
		Entities:      l.world.ids(),
	}
}

func (l *Lobby) join(id types.ClientID, out chan protocol.Frame) {
	if _, dup := l.clients[id]; dup {
		l.log.Warn("duplicate join", zap.Uint64("client_id", uint64(id)))
		close(out)
		return
	}
	l.clients[id] = out
	l.order = append(l.order, id)
	l.joined = true
	if l.host == 0 {
		l.host = id
		l.version++
	}
	l.log.Info("client joined", zap.Uint64("client_id", uint64(id)), zap.Bool("host", l.host == id))

	// Register client + send current state immediately
	l.send(id, protocol.Frame{Type: protocol.MsgWelcome, Payload: protocol.Welcome{
		ClientID: id, Session: l.cfg.Code, Host: l.host == id,
	}})
	l.send(id, l.rosterFrame())
	l.send(id, l.phaseFrame())
	switch l.seq.State() {
	case session.StateWorldLoading, session.StateSpawning:
		l.send(id, protocol.Frame{Type: protocol.MsgLoadWorld, Payload: protocol.LoadWorld{Scene: l.cfg.Scene}})
	case session.StateActive:
		l.send(id, protocol.Frame{Type: protocol.MsgLoadWorld, Payload: protocol.LoadWorld{Scene: l.cfg.Scene}})
		for _, f := range l.world.spawnFrames() {
			l.send(id, f)
		}
	}
}

// leave runs for a normal disconnect and for a dropped slow client alike.
func (l *Lobby) leave(id types.ClientID) {
	ch, ok := l.clients[id]
	if !ok {
		return
	}
	close(ch) // Tell client no more frames
	delete(l.clients, id)
	delete(l.slow, id)
	l.order = slices.DeleteFunc(l.order, func(x types.ClientID) bool { return x == id })
	l.log.Info("client left", zap.Uint64("client_id", uint64(id)))

	rosterChanged := false
	if l.host == id {
		l.host = 0
		if len(l.order) > 0 {
			l.host = l.order[0]
		}
		rosterChanged = true
	}

	switch l.seq.State() {
	case session.StateLobbyOpen:
		if l.roster.Remove(id) {
			rosterChanged = true
		}
	case session.StateStarting, session.StateWorldLoading, session.StateSpawning:
		l.world.depart(id)
		if l.seq.ReportLoaded(id) {
			l.passBarrier()
		}
	case session.StateActive:
		l.world.despawnOwner(id)
	}

	if rosterChanged {
		l.version++
		l.broadcast(l.rosterFrame())
	}
}

func (l *Lobby) handle(from types.ClientID, f protocol.Frame) {
	log := l.log.With(zap.Uint64("client_id", uint64(from)), zap.String("type", f.Type))
	switch m := f.Payload.(type) {
	case protocol.Submit:
		if l.seq.State() != session.StateLobbyOpen {
			l.reject(from, protocol.CodeLobbyClosed, errors.New("lobby is closed"))
			return
		}
		e := l.roster.Submit(from, m.PlayerName, m.IsReady, m.CharacterIndex)
		log.Debug("roster submit", zap.String("player_name", e.PlayerName), zap.Bool("ready", e.IsReady))
		l.version++
		l.broadcast(l.rosterFrame())

	case protocol.SetReady:
		if l.seq.State() != session.StateLobbyOpen {
			l.reject(from, protocol.CodeLobbyClosed, errors.New("lobby is closed"))
			return
		}
		if !l.roster.SetReady(from, m.IsReady) {
			l.reject(from, protocol.CodeNoRosterEntry, errors.New("submit an entry first"))
			return
		}
		l.version++
		l.broadcast(l.rosterFrame())

	case protocol.Start:
		if from != l.host {
			l.reject(from, protocol.CodeNotHost, errors.New("only the host can start"))
			return
		}
		l.start(from)

	case protocol.LoadComplete:
		l.loadComplete(from)

	case protocol.Updates:
		l.world.applyUpdates(from, m.Updates)

	case relay.Message:
		l.world.relay(from, m)

	default:
		log.Warn("unexpected frame")
		l.reject(from, protocol.CodeBadFrame, fmt.Errorf("%w: %q", protocol.ErrUnknownType, f.Type))
	}
}

func (l *Lobby) start(from types.ClientID) {
	snap, err := l.seq.Start(l.roster)
	switch {
	case errors.Is(err, session.ErrNotAllReady):
		l.reject(from, protocol.CodeNotAllReady, err)
		return
	case err != nil:
		l.reject(from, protocol.CodeLobbyClosed, err)
		return
	}
	// The lobby is torn down; the snapshot carries the roster from here on.
	l.roster.Clear()
	l.broadcast(l.phaseFrame())

	l.loadGen++
	gen := l.loadGen
	l.loadTimer = time.AfterFunc(l.cfg.LoadTimeout, func() { l.post(loadTimedOut{gen: gen}) })
	l.fetchBuilds(snap)
}

func (l *Lobby) loadComplete(from types.ClientID) {
	switch l.seq.State() {
	case session.StateWorldLoading:
		if l.seq.ReportLoaded(from) {
			l.passBarrier()
		}
	case session.StateActive:
		entry, slot, err := l.seq.EntryFor(from)
		if err != nil {
			l.reject(from, protocol.CodeNoRosterEntry, err)
			return
		}
		l.world.spawnLate(from, entry, slot)
	default:
		l.log.Debug("load complete outside of loading", zap.Uint64("client_id", uint64(from)))
	}
}

func (l *Lobby) passBarrier() {
	if l.barrierPassed {
		return
	}
	l.barrierPassed = true
	if l.loadTimer != nil {
		l.loadTimer.Stop()
	}
	l.trySpawn()
}

// trySpawn spawns once the barrier is passed and saved builds are in.
func (l *Lobby) trySpawn() {
	if !l.barrierPassed || !l.buildsReady || l.seq.State() != session.StateWorldLoading {
		return
	}
	spawned, err := l.seq.LoadCompleted(l.seq.Loaded())
	if err != nil {
		l.log.Warn("some participants were not spawned", zap.Error(err))
	}
	l.world.publish(spawned)
	l.broadcast(l.phaseFrame())
}

// post hands a message from a background goroutine to the loop.
func (l *Lobby) post(m Msg) {
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
	}
}

func (l *Lobby) shutdown() {
	if l.loadTimer != nil {
		l.loadTimer.Stop()
	}
	// Builds are saved past cancellation, bounded by the store timeout.
	l.cancel()
	l.world.saveAll()
	if err := l.bg.Wait(); err != nil {
		l.log.Warn("background work failed", zap.Error(err))
	}
	for id, ch := range l.clients {
		close(ch) // Tell client no more frames
		delete(l.clients, id)
	}
	l.order = nil
	l.log.Info("session closed")
}

func (l *Lobby) rosterFrame() protocol.Frame {
	return protocol.Frame{Type: protocol.MsgRoster, Payload: protocol.RosterView{
		Version:  l.version,
		Host:     l.host,
		AllReady: l.roster.AllReady(),
		Entries:  l.roster.Entries(),
	}}
}

func (l *Lobby) phaseFrame() protocol.Frame {
	return protocol.Frame{Type: protocol.MsgPhase, Payload: protocol.Phase{State: l.seq.State().String()}}
}

func (l *Lobby) reject(id types.ClientID, code string, err error) {
	l.log.Debug("request rejected", zap.Uint64("client_id", uint64(id)), zap.String("code", code), zap.Error(err))
	l.send(id, protocol.ErrorFrame(code, err))
}

// send never blocks. A client whose outbox is full is dropped after the
// current message is handled.
func (l *Lobby) send(id types.ClientID, f protocol.Frame) {
	ch, ok := l.clients[id]
	if !ok {
		return
	}
	if _, slow := l.slow[id]; slow {
		return
	}
	select {
	case ch <- f:
		//ok
	default:
		l.log.Warn("dropping slow client", zap.Uint64("client_id", uint64(id)))
		l.slow[id] = struct{}{}
	}
}

func (l *Lobby) broadcast(f protocol.Frame) {
	for _, id := range l.order {
		l.send(id, f)
	}
}

func (l *Lobby) broadcastExcept(skip types.ClientID, f protocol.Frame) {
	for _, id := range l.order {
		if id != skip {
			l.send(id, f)
		}
	}
}

func (l *Lobby) reapSlow() {
	for len(l.slow) > 0 {
		for id := range l.slow {
			delete(l.slow, id)
			l.leave(id)
			break
		}
	}
}

// announcer turns sequencer signals into broadcasts.
type announcer struct{ l *Lobby }

func (a announcer) HideLobby() {
	a.l.broadcast(protocol.Frame{Type: protocol.MsgHideLobby, Payload: protocol.HideLobby{}})
}

func (a announcer) LoadWorld(scene string) {
	a.l.broadcast(protocol.Frame{Type: protocol.MsgLoadWorld, Payload: protocol.LoadWorld{Scene: scene}})
}
