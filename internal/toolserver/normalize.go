package toolserver

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaDraftTag is stamped onto every normalized schema, per spec.md
// §4.1 step 4 ("stamp a JSON-schema draft tag").
const schemaDraftTag = "http://json-schema.org/draft-07/schema#"

// normalizeSchema sets additionalProperties=false and the draft tag on a
// tool's input schema, per spec.md §4.1 step 4. It never renames or drops
// fields the server supplied — only adds the two normalized keys.
//
// Before normalizing, the schema is compiled with
// santhosh-tekuri/jsonschema/v5 purely to validate it parses as a sane
// JSON Schema document; a tool with an uncompilable schema is logged and
// passed through unmodified rather than dropped, matching §4.1's
// "partial aggregation is the default" failure policy — a malformed
// schema from one server must never fail the whole aggregate.
func normalizeSchema(logger *slog.Logger, serverName, toolName string, raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}

	if err := validateSchemaShape(raw); err != nil {
		logger.Warn("tool input schema failed validation, passing through unmodified",
			"server", serverName, "tool", toolName, "error", err)
		return raw
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		logger.Warn("tool input schema is not a JSON object, passing through unmodified",
			"server", serverName, "tool", toolName, "error", err)
		return raw
	}

	schema["additionalProperties"] = false
	schema["$schema"] = schemaDraftTag

	normalized, err := json.Marshal(schema)
	if err != nil {
		logger.Warn("failed to re-marshal normalized schema, passing through unmodified",
			"server", serverName, "tool", toolName, "error", err)
		return raw
	}
	return normalized
}

func validateSchemaShape(raw json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return err
	}
	_, err := compiler.Compile("schema.json")
	return err
}
