package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/DoyleJ11/coop-session-server/internal/protocol"
	"github.com/DoyleJ11/coop-session-server/internal/relay"
)

// wirePayloads names every frame payload by its frame type.
type wirePayloads struct {
	Submit       protocol.Submit       `json:"submit"`
	SetReady     protocol.SetReady     `json:"set_ready"`
	Start        protocol.Start        `json:"start"`
	LoadComplete protocol.LoadComplete `json:"load_complete"`
	Welcome      protocol.Welcome      `json:"welcome"`
	Roster       protocol.RosterView   `json:"roster"`
	Phase        protocol.Phase        `json:"phase"`
	HideLobby    protocol.HideLobby    `json:"hide_lobby"`
	LoadWorld    protocol.LoadWorld    `json:"load_world"`
	Spawn        protocol.Spawn        `json:"spawn"`
	Despawn      protocol.Despawn      `json:"despawn"`
	Error        protocol.Error        `json:"error"`
	Relay        relay.Message         `json:"relay"`
	Update       protocol.Updates      `json:"update"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	schema := buildSchema()

	if err := writeSchema(outPath, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(wirePayloads))
	schema.Title = "Co-op Session Wire Payloads"
	schema.Description = "Payload of each frame type, sent as {\"t\": type, \"p\": payload} with the coop.json subprotocol"
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
