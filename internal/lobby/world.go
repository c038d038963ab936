package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/character"
	"github.com/DoyleJ11/coop-session-server/internal/protocol"
	"github.com/DoyleJ11/coop-session-server/internal/relay"
	"github.com/DoyleJ11/coop-session-server/internal/replication"
	"github.com/DoyleJ11/coop-session-server/internal/roster"
	"github.com/DoyleJ11/coop-session-server/internal/session"
	"github.com/DoyleJ11/coop-session-server/internal/store"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

// spawnInfo is what the server remembers about a spawned entity beyond its
// replicated state.
type spawnInfo struct {
	slot       int
	prefab     string
	playerName string
}

// world is the server's side of the active session: the authoritative entity
// registry, the relay and build persistence. It runs on the lobby loop.
type world struct {
	l        *Lobby
	registry *session.Registry
	relays   *relay.Relay
	info     map[types.NetworkID]spawnInfo
	departed map[types.ClientID]bool
	next     types.NetworkID
}

func newWorld(l *Lobby) *world {
	reg := session.NewRegistry()
	return &world{
		l:        l,
		registry: reg,
		relays:   relay.NewRelay(reg),
		info:     make(map[types.NetworkID]spawnInfo),
		departed: make(map[types.ClientID]bool),
	}
}

func (w *world) ids() []types.NetworkID {
	var out []types.NetworkID
	for _, c := range w.registry.All() {
		out = append(out, c.ID())
	}
	return out
}

// Spawn instantiates one participant's character with server authority and
// binds its ownership. A saved build for the same character replaces the
// descriptor stats.
func (w *world) Spawn(slot int, entry roster.Entry, res catalog.Resolution, pos types.Vec3) (*character.Character, error) {
	if _, taken := w.registry.ByOwner(entry.ClientID); taken {
		return nil, fmt.Errorf("client %d already owns an entity", entry.ClientID)
	}
	w.next++
	c := character.New(w.next, entry.ClientID, replication.ServerHolder)

	stats := res.Descriptor.Stats
	if b, ok := w.l.builds[entry.PlayerName]; ok && entry.PlayerName != "" && b.CharacterIndex == res.Index {
		stats = b.Stats()
	}
	stats.CharacterIndex = res.Index
	c.Seed(stats)
	if err := c.Vars().Seed(replication.FieldPosition, replication.Vector(pos)); err != nil {
		return nil, err
	}
	if err := w.registry.Add(c); err != nil {
		return nil, err
	}
	w.info[c.ID()] = spawnInfo{slot: slot, prefab: res.Descriptor.Prefab, playerName: entry.PlayerName}
	return c, nil
}

func (w *world) spawnFrame(c *character.Character) protocol.Frame {
	info := w.info[c.ID()]
	return protocol.Frame{Type: protocol.MsgSpawn, Payload: protocol.Spawn{
		Entity:  c.ID(),
		Owner:   c.Owner(),
		Slot:    info.slot,
		Prefab:  info.prefab,
		Updates: c.Vars().Updates(),
	}}
}

func (w *world) spawnFrames() []protocol.Frame {
	var out []protocol.Frame
	for _, c := range w.registry.All() {
		out = append(out, w.spawnFrame(c))
	}
	return out
}

// publish announces the spawned characters, then despawns those whose owner
// left while the world was loading.
func (w *world) publish(spawned []session.Spawned) {
	for _, s := range spawned {
		w.l.broadcast(w.spawnFrame(s.Character))
	}
	for id := range w.departed {
		w.despawnOwner(id)
	}
	clear(w.departed)
}

func (w *world) depart(id types.ClientID) { w.departed[id] = true }

// spawnLate spawns a client that finished loading after the session went
// active. entry may belong to someone else when the roster fallback is on;
// the entity is still owned by id and never saved under the other name.
func (w *world) spawnLate(id types.ClientID, entry roster.Entry, slot int) {
	if _, ok := w.registry.ByOwner(id); ok {
		return
	}
	if entry.ClientID != id {
		entry.PlayerName = ""
		entry.ClientID = id
	}
	res, err := w.l.cat.Characters.Resolve(entry.CharacterIndex)
	if err != nil {
		w.l.reject(id, protocol.CodeRejected, err)
		return
	}
	c, err := w.Spawn(slot, entry, res, w.l.cfg.Layout.Position(slot))
	if err != nil {
		w.l.log.Error("late spawn failed", zap.Uint64("client_id", uint64(id)), zap.Error(err))
		w.l.reject(id, protocol.CodeRejected, err)
		return
	}
	w.l.broadcast(w.spawnFrame(c))
}

func (w *world) despawnOwner(id types.ClientID) {
	c, ok := w.registry.ByOwner(id)
	if !ok {
		return
	}
	w.save(c)
	w.registry.Remove(c.ID())
	delete(w.info, c.ID())
	w.l.broadcast(protocol.Frame{Type: protocol.MsgDespawn, Payload: protocol.Despawn{Entity: c.ID()}})
}

// applyUpdates authorizes each write against its field's authority, applies
// it and forwards the accepted ones to every other client.
func (w *world) applyUpdates(from types.ClientID, us []replication.Update) {
	sender := replication.Holder{Client: from}
	accepted := make([]replication.Update, 0, len(us))
	for _, u := range us {
		c, ok := w.registry.Lookup(u.Entity)
		if !ok {
			w.l.log.Debug("update for unknown entity", zap.Uint64("network_id", uint64(u.Entity)))
			continue
		}
		if err := c.Vars().Authorize(sender, u); err != nil {
			w.l.reject(from, protocol.CodeRejected, err)
			continue
		}
		if c.Vars().Apply(u) {
			accepted = append(accepted, u)
		}
	}
	if len(accepted) == 0 {
		return
	}
	w.l.broadcastExcept(from, protocol.Frame{Type: protocol.MsgUpdate, Payload: protocol.Updates{Updates: accepted}})
}

// relay validates a request and broadcasts it to every client, the
// originator included.
func (w *world) relay(from types.ClientID, m relay.Message) {
	out, err := w.relays.Handle(from, m)
	if err != nil {
		w.l.log.Warn("relay rejected",
			zap.Uint64("client_id", uint64(from)),
			zap.String("kind", string(m.Kind)),
			zap.Error(err))
		w.l.reject(from, protocol.CodeRejected, err)
		return
	}
	w.l.broadcast(protocol.Frame{Type: protocol.MsgRelay, Payload: out})
}

func (w *world) save(c *character.Character) {
	name := w.info[c.ID()].playerName
	if w.l.store == nil || name == "" {
		return
	}
	b := store.FromStats(name, c.Stats())
	st, timeout, log := w.l.store, w.l.cfg.StoreTimeout, w.l.log
	ctx := context.WithoutCancel(w.l.ctx)
	w.l.bg.Go(func() error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := st.Save(ctx, b); err != nil {
			log.Warn("saving build failed", zap.String("player_name", b.PlayerName), zap.Error(err))
			return err
		}
		return nil
	})
}

func (w *world) saveAll() {
	for _, c := range w.registry.All() {
		w.save(c)
	}
}

// fetchBuilds loads saved builds of the snapshot in the background and posts
// them back to the loop. A failed lookup falls back to descriptor stats.
func (l *Lobby) fetchBuilds(snap roster.Snapshot) {
	if l.store == nil {
		l.buildsReady = true
		return
	}
	names := make([]string, 0, snap.Len())
	for _, e := range snap.Entries() {
		if e.PlayerName != "" {
			names = append(names, e.PlayerName)
		}
	}
	st, timeout, log := l.store, l.cfg.StoreTimeout, l.log
	l.bg.Go(func() error {
		ctx, cancel := context.WithTimeout(l.ctx, timeout)
		defer cancel()

		var mu sync.Mutex
		builds := make(map[string]store.Build, len(names))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, name := range names {
			g.Go(func() error {
				b, err := st.Load(gctx, name)
				switch {
				case errors.Is(err, store.ErrNotFound):
					return nil
				case err != nil:
					log.Warn("loading build failed", zap.String("player_name", name), zap.Error(err))
					return nil
				}
				mu.Lock()
				builds[name] = b
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		l.post(buildsFetched{builds: builds})
		return nil
	})
}
