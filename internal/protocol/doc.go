// Package protocol defines the frames exchanged over a session websocket and
// their two encodings. Every frame is an envelope {t: type, p: payload}; the
// subprotocol picked at the handshake decides JSON text or msgpack binary.
package protocol

// Client -> Server
// submit:
//   player_name: string
//   is_ready: boolean
//   character_index: number
//
// set_ready:
//   is_ready: boolean
//
// start: {}            // host only
//
// load_complete: {}
//
// relay: relay message // origin must be the sender, entity owned by it
//
// update:
//   updates: { entity, field, seq, value }[]

// Server -> Client
// welcome:
//   client_id: number
//   session: string
//   host: boolean
//
// roster:
//   version: number
//   host: number
//   all_ready: boolean
//   entries: { client_id, player_name, is_ready, character_index }[]
//
// phase:
//   state: "lobby_open" | "world_loading" | "active"
//
// hide_lobby: {}
//
// load_world:
//   scene: string
//
// spawn:
//   entity: number
//   owner: number
//   slot: number
//   prefab: string
//   updates: full replicated state
//
// despawn:
//   entity: number
//
// relay: relay message, to every client
//
// update: accepted updates, to every client but the writer
//
// error:
//   code: string
//   message: string
