package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/hub"
	"github.com/DoyleJ11/coop-session-server/internal/lobby"
	"github.com/DoyleJ11/coop-session-server/internal/protocol"
	"github.com/DoyleJ11/coop-session-server/internal/session"
	"github.com/DoyleJ11/coop-session-server/internal/ws"
)

func newServer(t *testing.T, opts ws.Options) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, lobby.Config{Scene: "world", Layout: session.Layout{Spacing: 3}}, catalog.Default(), nil, nil)
	srv := httptest.NewServer(SetupRoutes(h, opts, nil))
	t.Cleanup(srv.Close)
	return srv
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/sessions", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Code
}

func dial(t *testing.T, srv *httptest.Server, code, subprotocol string) (*websocket.Conn, protocol.Codec) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?code=" + code
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, protocol.ForSubprotocol(conn.Subprotocol())
}

func readFrame(t *testing.T, conn *websocket.Conn, c protocol.Codec) protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	require.NoError(t, err)
	f, err := protocol.DecodeServer(c, b)
	require.NoError(t, err)
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, c protocol.Codec, f protocol.Frame) {
	t.Helper()
	b, err := c.Encode(f)
	require.NoError(t, err)
	typ := websocket.MessageText
	if c.Binary() {
		typ = websocket.MessageBinary
	}
	require.NoError(t, conn.Write(context.Background(), typ, b))
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Equal(t, strings.ToUpper(code), code)
}

func TestRoutes_HTTP(t *testing.T) {
	srv := newServer(t, ws.Options{})
	code := createSession(t, srv)

	cases := []struct {
		name string
		path string
		want int
	}{
		{"healthz", "/healthz", http.StatusOK},
		{"session", "/sessions/" + code, http.StatusOK},
		{"unknown session", "/sessions/NOPE00", http.StatusNotFound},
		{"list", "/sessions", http.StatusOK},
		{"ws without code", "/ws", http.StatusBadRequest},
		{"ws unknown session", "/ws?code=NOPE00", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	resp, err := http.Get(srv.URL + "/sessions/" + code)
	require.NoError(t, err)
	defer resp.Body.Close()
	var v sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, code, v.Code)
	assert.Equal(t, "lobby_open", v.Phase)
	assert.Zero(t, v.Clients)
}

func TestRoutes_WebSocketLobby(t *testing.T) {
	srv := newServer(t, ws.Options{})
	code := createSession(t, srv)

	bin, binCodec := dial(t, srv, code, protocol.SubprotocolMsgpack)
	require.True(t, binCodec.Binary())
	welcome := readFrame(t, bin, binCodec).Payload.(protocol.Welcome)
	assert.True(t, welcome.Host)
	assert.Equal(t, code, welcome.Session)
	assert.Equal(t, protocol.MsgRoster, readFrame(t, bin, binCodec).Type)
	assert.Equal(t, protocol.MsgPhase, readFrame(t, bin, binCodec).Type)

	txt, txtCodec := dial(t, srv, code, protocol.SubprotocolJSON)
	require.False(t, txtCodec.Binary())
	other := readFrame(t, txt, txtCodec).Payload.(protocol.Welcome)
	assert.False(t, other.Host)
	assert.NotEqual(t, welcome.ClientID, other.ClientID)
	readFrame(t, txt, txtCodec)
	readFrame(t, txt, txtCodec)

	sendFrame(t, txt, txtCodec, protocol.Frame{Type: protocol.MsgSubmit, Payload: protocol.Submit{PlayerName: "bob", IsReady: true, CharacterIndex: 1}})
	for _, c := range []struct {
		conn  *websocket.Conn
		codec protocol.Codec
	}{{bin, binCodec}, {txt, txtCodec}} {
		r := readFrame(t, c.conn, c.codec).Payload.(protocol.RosterView)
		require.Len(t, r.Entries, 1)
		assert.Equal(t, "bob", r.Entries[0].PlayerName)
		assert.Equal(t, other.ClientID, r.Entries[0].ClientID)
		assert.True(t, r.AllReady)
	}

	require.NoError(t, txt.Write(context.Background(), websocket.MessageText, []byte(`{"t":"nope"}`)))
	e := readFrame(t, txt, txtCodec).Payload.(protocol.Error)
	assert.Equal(t, protocol.CodeBadFrame, e.Code)
}

func TestRoutes_WebSocketRateLimit(t *testing.T) {
	srv := newServer(t, ws.Options{Rate: rate.Every(time.Hour), Burst: 1})
	code := createSession(t, srv)
	conn, c := dial(t, srv, code, protocol.SubprotocolJSON)
	for i := 0; i < 3; i++ {
		readFrame(t, conn, c)
	}

	submit := protocol.Frame{Type: protocol.MsgSubmit, Payload: protocol.Submit{PlayerName: "alice"}}
	sendFrame(t, conn, c, submit)
	assert.Equal(t, protocol.MsgRoster, readFrame(t, conn, c).Type)

	sendFrame(t, conn, c, submit)
	e := readFrame(t, conn, c).Payload.(protocol.Error)
	assert.Equal(t, protocol.CodeRateLimited, e.Code)
}
