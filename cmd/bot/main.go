// Command bot drives headless peers through a full session against a running
// server: lobby, world load, spawn, movement and one melee hit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/combat"
	"github.com/DoyleJ11/coop-session-server/internal/peer"
	"github.com/DoyleJ11/coop-session-server/internal/protocol"
	"github.com/DoyleJ11/coop-session-server/internal/relay"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

type botClient struct {
	name  string
	conn  *websocket.Conn
	codec protocol.Codec
	peer  *peer.Peer
	inbox chan protocol.Frame
	done  chan error
	mu    sync.Mutex // guards conn writes
}

func main() {
	baseURL := flag.String("http", "http://localhost:8080", "server http url")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "server websocket url")
	code := flag.String("code", "", "session to join; a new one is created when empty")
	clientCount := flag.Int("clients", 2, "number of bot clients")
	codecName := flag.String("codec", protocol.SubprotocolJSON, "wire codec subprotocol")
	seenWindow := flag.Int("seen-window", relay.DefaultSeenWindow, "relay message IDs each peer remembers")
	flag.Parse()

	if *clientCount < 2 {
		fmt.Println("clients must be >= 2")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if *code == "" {
		c, err := createSession(ctx, *baseURL)
		if err != nil {
			fail(fmt.Errorf("create session: %w", err))
		}
		*code = c
	}
	fmt.Println("coop-bot: session", *code)

	cat := catalog.Default()
	bots := make([]*botClient, 0, *clientCount)
	for index := 0; index < *clientCount; index++ {
		client, err := newBotClient(ctx, *wsURL+"?code="+*code, *codecName, fmt.Sprintf("bot-%d", index+1), cat, peer.WithSeenWindow(*seenWindow))
		if err != nil {
			fail(err)
		}
		bots = append(bots, client)
	}
	defer func() {
		for _, client := range bots {
			client.close()
		}
	}()

	for index, client := range bots {
		if err := client.peer.Submit(client.name, true, index%cat.Characters.Len()); err != nil {
			fail(err)
		}
	}

	host := bots[0]
	if err := host.waitFor(ctx, func(p *peer.Peer) bool {
		return p.Roster().AllReady && len(p.Roster().Entries) == len(bots)
	}); err != nil {
		fail(fmt.Errorf("roster: %w", err))
	}
	if err := host.peer.Start(); err != nil {
		fail(err)
	}

	for _, client := range bots {
		if err := client.waitFor(ctx, func(p *peer.Peer) bool { return p.Scene() != "" }); err != nil {
			fail(fmt.Errorf("%s load world: %w", client.name, err))
		}
		if err := client.peer.WorldLoaded(); err != nil {
			fail(err)
		}
	}
	for _, client := range bots {
		if err := client.waitFor(ctx, func(p *peer.Peer) bool { return p.Registry().Len() == len(bots) }); err != nil {
			fail(fmt.Errorf("%s spawn: %w", client.name, err))
		}
	}

	actor, target := bots[0], bots[1]
	me, ok := actor.peer.Character()
	if !ok {
		fail(errors.New("actor has no character"))
	}
	victim, ok := target.peer.Character()
	if !ok {
		fail(errors.New("target has no character"))
	}

	if err := actor.peer.Move(me.ID(), peer.Locomotion{
		Position:   me.Position().Add(types.Vec3{Z: 0.5}),
		Rotation:   types.IdentityQuat,
		Vertical:   1,
		MoveAmount: 0.5,
	}); err != nil {
		fail(fmt.Errorf("move: %w", err))
	}

	before := victim.Health()
	if err := actor.peer.AttemptAction(me.ID(), catalog.ActionLightAttack, catalog.ItemStraightSword); err != nil {
		fail(fmt.Errorf("action: %w", err))
	}
	if _, err := actor.peer.Swing(me.ID(), combat.Collider{Center: victim.Position(), Radius: 0.5}); err != nil {
		fail(fmt.Errorf("swing: %w", err))
	}
	actor.peer.EndSwing(me.ID())

	if err := target.waitFor(ctx, func(*peer.Peer) bool { return victim.Health() < before }); err != nil {
		fail(fmt.Errorf("damage: %w", err))
	}
	if err := actor.waitFor(ctx, func(p *peer.Peer) bool {
		c, ok := p.Registry().Lookup(victim.ID())
		return ok && c.Health() == victim.Health()
	}); err != nil {
		fail(fmt.Errorf("health replication: %w", err))
	}

	fmt.Printf("coop-bot: %s hit %s for %.0f\n", actor.name, target.name, before-victim.Health())
	fmt.Println("coop-bot: scenario complete")
}

func createSession(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/sessions", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Code, nil
}

func newBotClient(ctx context.Context, wsURL, subprotocol, name string, cat catalog.Catalog, opts ...peer.Option) (*botClient, error) {
	conn, err := dialWithRetry(ctx, wsURL, subprotocol)
	if err != nil {
		return nil, err
	}
	client := &botClient{
		name:  name,
		conn:  conn,
		codec: protocol.ForSubprotocol(conn.Subprotocol()),
		inbox: make(chan protocol.Frame, 256),
		done:  make(chan error, 1),
	}
	go client.readLoop()

	// The peer is created once the server assigns our client ID.
	for client.peer == nil {
		select {
		case f := <-client.inbox:
			if w, ok := f.Payload.(protocol.Welcome); ok {
				client.peer = peer.New(w.ClientID, cat, client, nil, opts...)
			}
		case err := <-client.done:
			client.close()
			return nil, fmt.Errorf("%s: connection closed before welcome: %v", name, err)
		case <-ctx.Done():
			client.close()
			return nil, ctx.Err()
		}
	}
	return client, nil
}

func (c *botClient) close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *botClient) readLoop() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.done <- err
			close(c.done)
			return
		}
		f, err := protocol.DecodeServer(c.codec, payload)
		if err != nil {
			continue
		}
		c.inbox <- f
	}
}

// Send implements peer.Sender.
func (c *botClient) Send(f protocol.Frame) error {
	b, err := c.codec.Encode(f)
	if err != nil {
		return err
	}
	typ := websocket.TextMessage
	if c.codec.Binary() {
		typ = websocket.BinaryMessage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(typ, b)
}

// waitFor applies incoming frames to the peer until predicate holds.
func (c *botClient) waitFor(ctx context.Context, predicate func(*peer.Peer) bool) error {
	for {
		if predicate(c.peer) {
			return nil
		}
		select {
		case f := <-c.inbox:
			if err := c.peer.HandleFrame(f); err != nil {
				return err
			}
			if e := c.peer.LastError(); e != nil && f.Type == protocol.MsgError {
				return fmt.Errorf("server error %s: %s", e.Code, e.Message)
			}
			c.peer.Tick(50 * time.Millisecond)
		case err := <-c.done:
			if err != nil {
				return err
			}
			return fmt.Errorf("connection closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func dialWithRetry(ctx context.Context, wsURL, subprotocol string) (*websocket.Conn, error) {
	if !strings.HasPrefix(wsURL, "ws://") && !strings.HasPrefix(wsURL, "wss://") {
		return nil, fmt.Errorf("invalid ws url: %s", wsURL)
	}
	var lastErr error
	for attempt := 0; attempt < 12; attempt++ {
		dialer := *websocket.DefaultDialer
		dialer.Subprotocols = []string{subprotocol}
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(180 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func fail(err error) {
	fmt.Println(err.Error())
	os.Exit(1)
}
