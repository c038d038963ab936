package protocol

import (
	"github.com/DoyleJ11/coop-session-server/internal/replication"
	"github.com/DoyleJ11/coop-session-server/internal/roster"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

// Client -> server.
const (
	MsgSubmit       = "submit"
	MsgSetReady     = "set_ready"
	MsgStart        = "start"
	MsgLoadComplete = "load_complete"
)

// Server -> client.
const (
	MsgWelcome   = "welcome"
	MsgRoster    = "roster"
	MsgPhase     = "phase"
	MsgHideLobby = "hide_lobby"
	MsgLoadWorld = "load_world"
	MsgSpawn     = "spawn"
	MsgDespawn   = "despawn"
	MsgError     = "error"
)

// Both directions: a request from the actor, a broadcast from the server.
const (
	MsgRelay  = "relay"
	MsgUpdate = "update"
)

// Error codes sent in Error frames.
const (
	CodeBadFrame      = "bad_frame"
	CodeRateLimited   = "rate_limited"
	CodeNotHost       = "not_host"
	CodeNotAllReady   = "not_all_ready"
	CodeLobbyClosed   = "lobby_closed"
	CodeNoRosterEntry = "no_roster_entry"
	CodeRejected      = "rejected"
)

// Frame is one message before encoding or after decoding. Payload holds one of
// the payload structs below, or a relay.Message for MsgRelay.
type Frame struct {
	Type    string
	Payload any
}

type Submit struct {
	PlayerName     string `json:"player_name" msgpack:"player_name"`
	IsReady        bool   `json:"is_ready" msgpack:"is_ready"`
	CharacterIndex int    `json:"character_index" msgpack:"character_index"`
}

type SetReady struct {
	IsReady bool `json:"is_ready" msgpack:"is_ready"`
}

type Start struct{}

type LoadComplete struct{}

// Updates carries replicated field writes, client to server and server to
// every other holder.
type Updates struct {
	Updates []replication.Update `json:"updates" msgpack:"updates"`
}

type Welcome struct {
	ClientID types.ClientID `json:"client_id" msgpack:"client_id"`
	Session  string         `json:"session" msgpack:"session"`
	Host     bool           `json:"host" msgpack:"host"`
}

// RosterView is the full mirrored roster. Clients rebuild from it on every
// change.
type RosterView struct {
	Version  int            `json:"version" msgpack:"version"`
	Host     types.ClientID `json:"host" msgpack:"host"`
	AllReady bool           `json:"all_ready" msgpack:"all_ready"`
	Entries  []roster.Entry `json:"entries" msgpack:"entries"`
}

type Phase struct {
	State string `json:"state" msgpack:"state"`
}

type HideLobby struct{}

type LoadWorld struct {
	Scene string `json:"scene" msgpack:"scene"`
}

// Spawn publishes an entity with its full replicated state.
type Spawn struct {
	Entity  types.NetworkID      `json:"entity" msgpack:"entity"`
	Owner   types.ClientID       `json:"owner" msgpack:"owner"`
	Slot    int                  `json:"slot" msgpack:"slot"`
	Prefab  string               `json:"prefab" msgpack:"prefab"`
	Updates []replication.Update `json:"updates" msgpack:"updates"`
}

type Despawn struct {
	Entity types.NetworkID `json:"entity" msgpack:"entity"`
}

type Error struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// ErrorFrame builds an error frame.
func ErrorFrame(code string, err error) Frame {
	return Frame{Type: MsgError, Payload: Error{Code: code, Message: err.Error()}}
}
